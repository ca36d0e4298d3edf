package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "PSCX"

type Config struct {
	StartPaths         []string          `json:"start_paths" mapstructure:"start_paths"`
	AllDrives          bool              `json:"all_drives" mapstructure:"all_drives"`
	CollectSystemInfo  bool              `json:"collect_system_info" mapstructure:"collect_system_info"`
	OutputFileName     string            `json:"output_file_name" mapstructure:"output_file_name"`
	ConcurrencyLevel   int               `json:"concurrency_level" mapstructure:"concurrency_level"`
	NiceLevel          string            `json:"nice_level" mapstructure:"nice_level"`
	HashAlgorithms     []string          `json:"hash_algorithms" mapstructure:"hash_algorithms"`
	SearchTerms        []string          `json:"search_terms" mapstructure:"search_terms"`
	SearchWide         bool              `json:"search_wide" mapstructure:"search_wide"`
	IncludePatterns    []string          `json:"include_patterns" mapstructure:"include_patterns"`
	ExcludePatterns    []string          `json:"exclude_patterns" mapstructure:"exclude_patterns"`
	MaxStreamSize      int64             `json:"max_stream_size" mapstructure:"max_stream_size"`
	MaxOutputFileSize  int64             `json:"max_output_file_size" mapstructure:"max_output_file_size"`
	LogLevel           string            `json:"log_level" mapstructure:"log_level"`
	MaxIOPerSecond     int               `json:"max_io_per_second" mapstructure:"max_io_per_second"`
	ConfigFile         string            `json:"config_file" mapstructure:"config_file"`
	SkipCount          bool              `json:"skip_count" mapstructure:"skip_count"`
	ScanStreams        bool              `json:"scan_streams" mapstructure:"scan_streams"`
	StreamContent      bool              `json:"stream_content" mapstructure:"stream_content"`
	StreamMetadata     bool              `json:"stream_metadata" mapstructure:"stream_metadata"`
	ScanReparse        bool              `json:"scan_reparse" mapstructure:"scan_reparse"`
	IncludeDirectories bool              `json:"include_directories" mapstructure:"include_directories"`
	CollectXattrs      bool              `json:"collect_xattrs" mapstructure:"collect_xattrs"`
	XattrMaxValueSize  int               `json:"xattr_max_value_size" mapstructure:"xattr_max_value_size"`
	FuzzyHash          bool              `json:"fuzzy_hash" mapstructure:"fuzzy_hash"`
	FuzzyAlgorithms    []string          `json:"fuzzy_algorithms" mapstructure:"fuzzy_algorithms"`
	FuzzyMinSize       int64             `json:"fuzzy_min_size" mapstructure:"fuzzy_min_size"`
	FuzzyMaxSize       int64             `json:"fuzzy_max_size" mapstructure:"fuzzy_max_size"`
	OtelEndpoint       string            `json:"otel_endpoint" mapstructure:"otel_endpoint"`
	OtelFromEnv        bool              `json:"otel_from_env" mapstructure:"otel_from_env"`
	OtelHeaders        map[string]string `json:"otel_headers" mapstructure:"otel_headers"`
	OtelServiceName    string            `json:"otel_service_name" mapstructure:"otel_service_name"`
	OtelTimeout        time.Duration     `json:"otel_timeout" mapstructure:"otel_timeout"`
	OtelExportPaths    bool              `json:"otel_export_paths" mapstructure:"otel_export_paths"`
	OtelExportStreams  bool              `json:"otel_export_streams" mapstructure:"otel_export_streams"`
	StallThreshold     time.Duration     `json:"stall_threshold" mapstructure:"stall_threshold"`
	DiagDir            string            `json:"diag_dir" mapstructure:"diag_dir"`
	ConcurrencySet     bool              `json:"-" mapstructure:"-"`
	MaxIOSet           bool              `json:"-" mapstructure:"-"`
}

// Defaults returns the configuration used when neither a config file, the
// environment nor a flag overrides a value.
func Defaults() *Config {
	now := time.Now().UTC()
	timestamp := now.Format("20060102-150405")
	return &Config{
		StartPaths:         []string{"."},
		CollectSystemInfo:  true,
		OutputFileName:     fmt.Sprintf("pscx-%s-%d.ndjson", timestamp, now.Unix()),
		ConcurrencyLevel:   runtime.NumCPU(),
		NiceLevel:          "medium",
		HashAlgorithms:     []string{"sha256"},
		SearchTerms:        []string{},
		SearchWide:         true,
		IncludePatterns:    []string{},
		ExcludePatterns:    []string{},
		MaxStreamSize:      10485760,
		MaxOutputFileSize:  104857600,
		LogLevel:           "info",
		MaxIOPerSecond:     1000,
		SkipCount:          true,
		ScanStreams:        true,
		StreamContent:      true,
		StreamMetadata:     true,
		ScanReparse:        true,
		IncludeDirectories: true,
		CollectXattrs:      true,
		XattrMaxValueSize:  1024,
		FuzzyAlgorithms:    []string{},
		FuzzyMinSize:       256,
		FuzzyMaxSize:       20 * 1024 * 1024,
		OtelHeaders:        map[string]string{},
		OtelServiceName:    "pscx",
		OtelTimeout:        5 * time.Second,
		DiagDir:            ".",
	}
}

// RegisterFlags declares the scan flags on fs with defaults taken from cfg.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringSlice("path", cfg.StartPaths, "Start paths to scan.")
	fs.Bool("all-drives", cfg.AllDrives, "Scan all fixed NTFS drives (Windows only).")
	fs.Bool("collect-system-info", cfg.CollectSystemInfo, "Write a system_info record before the scan.")
	fs.StringP("output", "o", cfg.OutputFileName, "Output file name (default: pscx-<timestamp>-<unix>.ndjson).")
	fs.Int("concurrency", cfg.ConcurrencyLevel, "Number of files processed in parallel.")
	fs.String("nice", cfg.NiceLevel, "Nice level: high, medium, or low.")
	fs.StringSlice("hashes", cfg.HashAlgorithms, "Hash algorithms applied to stream payloads.")
	fs.StringSlice("search", cfg.SearchTerms, "Search terms counted in stream payloads.")
	fs.Bool("search-wide", cfg.SearchWide, "Also count UTF-16LE encodings of search terms.")
	fs.StringSlice("include", cfg.IncludePatterns, "Include patterns (glob on the base name, or regex).")
	fs.StringSlice("exclude", cfg.ExcludePatterns, "Exclude patterns (glob on the base name, or regex).")
	fs.Int64("max-stream-size", cfg.MaxStreamSize, "Maximum stream payload bytes read for content analysis (0 means unlimited).")
	fs.Int64("max-output-file-size", cfg.MaxOutputFileSize, "Maximum output file size before rotation in bytes.")
	fs.Int("max-io-per-second", cfg.MaxIOPerSecond, "Maximum files opened per second (0 means unlimited).")
	fs.Bool("skip-count", cfg.SkipCount, "Skip initial file counting to start scanning immediately.")
	fs.Bool("scan-streams", cfg.ScanStreams, "List named streams of every file.")
	fs.Bool("stream-content", cfg.StreamContent, "Hash and inspect named stream payloads.")
	fs.Bool("stream-metadata", cfg.StreamMetadata, "Extract EXIF, PDF and DOCX properties from stream payloads.")
	fs.Bool("scan-reparse", cfg.ScanReparse, "Decode reparse points.")
	fs.Bool("include-directories", cfg.IncludeDirectories, "Emit records for directories.")
	fs.Bool("collect-xattrs", cfg.CollectXattrs, "Collect extended attributes where named streams are unavailable.")
	fs.Int("xattr-max-value-size", cfg.XattrMaxValueSize, "Max bytes of xattr values to capture.")
	fs.Bool("fuzzy-hash", cfg.FuzzyHash, "Enable fuzzy hashing of stream payloads.")
	fs.StringSlice("fuzzy-algorithms", cfg.FuzzyAlgorithms, "Fuzzy hash algorithms (default: tlsh when fuzzy hashing is enabled).")
	fs.Int64("fuzzy-min-size", cfg.FuzzyMinSize, "Minimum stream size in bytes for fuzzy hashing.")
	fs.Int64("fuzzy-max-size", cfg.FuzzyMaxSize, "Maximum stream size in bytes for fuzzy hashing.")
	fs.String("otel-endpoint", cfg.OtelEndpoint, "OTLP/HTTP logs endpoint.")
	fs.Bool("otel-from-env", cfg.OtelFromEnv, "Allow OTEL endpoint fallback from OTEL environment variables.")
	fs.String("otel-headers", "", "Comma-separated OTEL headers (key=value) for export.")
	fs.String("otel-service-name", cfg.OtelServiceName, "OTEL service name for export.")
	fs.Duration("otel-timeout", cfg.OtelTimeout, "OTEL export timeout.")
	fs.Bool("otel-export-paths", cfg.OtelExportPaths, "Include raw file paths and link targets in OTEL payloads.")
	fs.Bool("otel-export-streams", cfg.OtelExportStreams, "Include stream names and search hits in OTEL payloads.")
	fs.Duration("stall-threshold", cfg.StallThreshold, "If positive, dump goroutine stacks when no file is recorded for this long (default: 0/off).")
	fs.String("diag-dir", cfg.DiagDir, "Directory for stall diagnostics.")
}

// Load resolves the configuration from defaults, the config file, PSCX_*
// environment variables and finally the flags the user set explicitly.
// configFile may be empty, in which case pscx.{json,yaml} is looked up in
// the working directory and in $HOME/.pscx.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	defaults := Defaults()
	v := viper.New()
	if err := setDefaults(v, defaults); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("pscx")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".pscx"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("could not read config file: %w", err)
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("invalid config file format: %w", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()
	cfg.ConcurrencySet = explicitlySet(v, "concurrency_level")
	cfg.MaxIOSet = explicitlySet(v, "max_io_per_second")

	if flags != nil {
		if err := cfg.applyFlags(flags); err != nil {
			return nil, err
		}
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) error {
	var values map[string]interface{}
	if err := mapstructure.Decode(cfg, &values); err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	for key, value := range values {
		v.SetDefault(key, value)
	}
	return nil
}

func explicitlySet(v *viper.Viper, key string) bool {
	if v.InConfig(key) {
		return true
	}
	_, ok := os.LookupEnv(envPrefix + "_" + strings.ToUpper(key))
	return ok
}

func (cfg *Config) applyFlags(fs *pflag.FlagSet) error {
	var firstErr error
	fs.Visit(func(f *pflag.Flag) {
		var err error
		switch f.Name {
		case "path":
			cfg.StartPaths, err = fs.GetStringSlice("path")
		case "all-drives":
			cfg.AllDrives, err = fs.GetBool("all-drives")
		case "collect-system-info":
			cfg.CollectSystemInfo, err = fs.GetBool("collect-system-info")
		case "output":
			cfg.OutputFileName, err = fs.GetString("output")
		case "concurrency":
			cfg.ConcurrencyLevel, err = fs.GetInt("concurrency")
			cfg.ConcurrencySet = true
		case "nice":
			cfg.NiceLevel, err = fs.GetString("nice")
		case "hashes":
			cfg.HashAlgorithms, err = fs.GetStringSlice("hashes")
		case "search":
			cfg.SearchTerms, err = fs.GetStringSlice("search")
		case "search-wide":
			cfg.SearchWide, err = fs.GetBool("search-wide")
		case "include":
			cfg.IncludePatterns, err = fs.GetStringSlice("include")
		case "exclude":
			cfg.ExcludePatterns, err = fs.GetStringSlice("exclude")
		case "max-stream-size":
			cfg.MaxStreamSize, err = fs.GetInt64("max-stream-size")
		case "max-output-file-size":
			cfg.MaxOutputFileSize, err = fs.GetInt64("max-output-file-size")
		case "log-level":
			cfg.LogLevel, err = fs.GetString("log-level")
		case "max-io-per-second":
			cfg.MaxIOPerSecond, err = fs.GetInt("max-io-per-second")
			cfg.MaxIOSet = true
		case "skip-count":
			cfg.SkipCount, err = fs.GetBool("skip-count")
		case "scan-streams":
			cfg.ScanStreams, err = fs.GetBool("scan-streams")
		case "stream-content":
			cfg.StreamContent, err = fs.GetBool("stream-content")
		case "stream-metadata":
			cfg.StreamMetadata, err = fs.GetBool("stream-metadata")
		case "scan-reparse":
			cfg.ScanReparse, err = fs.GetBool("scan-reparse")
		case "include-directories":
			cfg.IncludeDirectories, err = fs.GetBool("include-directories")
		case "collect-xattrs":
			cfg.CollectXattrs, err = fs.GetBool("collect-xattrs")
		case "xattr-max-value-size":
			cfg.XattrMaxValueSize, err = fs.GetInt("xattr-max-value-size")
		case "fuzzy-hash":
			cfg.FuzzyHash, err = fs.GetBool("fuzzy-hash")
		case "fuzzy-algorithms":
			cfg.FuzzyAlgorithms, err = fs.GetStringSlice("fuzzy-algorithms")
		case "fuzzy-min-size":
			cfg.FuzzyMinSize, err = fs.GetInt64("fuzzy-min-size")
		case "fuzzy-max-size":
			cfg.FuzzyMaxSize, err = fs.GetInt64("fuzzy-max-size")
		case "otel-endpoint":
			cfg.OtelEndpoint, err = fs.GetString("otel-endpoint")
		case "otel-from-env":
			cfg.OtelFromEnv, err = fs.GetBool("otel-from-env")
		case "otel-headers":
			var raw string
			raw, err = fs.GetString("otel-headers")
			cfg.OtelHeaders = parseHeaders(raw)
		case "otel-service-name":
			cfg.OtelServiceName, err = fs.GetString("otel-service-name")
		case "otel-timeout":
			cfg.OtelTimeout, err = fs.GetDuration("otel-timeout")
		case "otel-export-paths":
			cfg.OtelExportPaths, err = fs.GetBool("otel-export-paths")
		case "otel-export-streams":
			cfg.OtelExportStreams, err = fs.GetBool("otel-export-streams")
		case "stall-threshold":
			cfg.StallThreshold, err = fs.GetDuration("stall-threshold")
		case "diag-dir":
			cfg.DiagDir, err = fs.GetString("diag-dir")
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flag --%s: %w", f.Name, err)
		}
	})
	return firstErr
}

func (cfg *Config) normalize() {
	cfg.StartPaths = trimItems(cfg.StartPaths)
	if len(cfg.StartPaths) == 0 {
		cfg.StartPaths = []string{"."}
	}
	cfg.NiceLevel = strings.ToLower(strings.TrimSpace(cfg.NiceLevel))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.OtelEndpoint = strings.TrimSpace(cfg.OtelEndpoint)
	cfg.OtelServiceName = strings.TrimSpace(cfg.OtelServiceName)
	if cfg.OtelServiceName == "" {
		cfg.OtelServiceName = "pscx"
	}
	cfg.HashAlgorithms = normalizeAlgorithms(cfg.HashAlgorithms)
	cfg.SearchTerms = trimItems(cfg.SearchTerms)
	cfg.IncludePatterns = trimItems(cfg.IncludePatterns)
	cfg.ExcludePatterns = trimItems(cfg.ExcludePatterns)
	cfg.FuzzyAlgorithms = normalizeAlgorithms(cfg.FuzzyAlgorithms)
	if cfg.FuzzyHash && len(cfg.FuzzyAlgorithms) == 0 {
		cfg.FuzzyAlgorithms = []string{"tlsh"}
	}
	if len(cfg.FuzzyAlgorithms) > 0 {
		cfg.FuzzyHash = true
	}
	if cfg.FuzzyMaxSize > 0 && cfg.FuzzyMaxSize < cfg.FuzzyMinSize {
		cfg.FuzzyMaxSize = cfg.FuzzyMinSize
	}
	if cfg.OtelHeaders == nil {
		cfg.OtelHeaders = map[string]string{}
	}
	cfg.DiagDir = strings.TrimSpace(cfg.DiagDir)
	if cfg.DiagDir == "" {
		cfg.DiagDir = "."
	}
}

func (cfg *Config) validate() error {
	if len(cfg.StartPaths) == 0 && !cfg.AllDrives {
		return fmt.Errorf("either start path(s) or --all-drives must be specified")
	}
	if cfg.AllDrives && runtime.GOOS != "windows" {
		return fmt.Errorf("--all-drives flag is only supported on Windows")
	}
	if strings.TrimSpace(cfg.OutputFileName) == "" {
		return fmt.Errorf("output file name must not be empty")
	}
	if cfg.MaxStreamSize < 0 {
		return fmt.Errorf("max-stream-size must be zero or positive")
	}
	if cfg.MaxOutputFileSize < 0 {
		return fmt.Errorf("max-output-file-size must be zero or positive")
	}
	if cfg.FuzzyMinSize < 0 || cfg.FuzzyMaxSize < 0 {
		return fmt.Errorf("fuzzy size limits must be zero or positive")
	}
	if cfg.XattrMaxValueSize < 0 {
		return fmt.Errorf("xattr-max-value-size must be zero or positive")
	}
	if cfg.OtelTimeout < 0 {
		return fmt.Errorf("otel-timeout must be zero or positive")
	}
	if cfg.OtelEndpoint != "" {
		if !strings.HasPrefix(cfg.OtelEndpoint, "http://") && !strings.HasPrefix(cfg.OtelEndpoint, "https://") {
			return fmt.Errorf("otel-endpoint must include scheme (http or https)")
		}
	}
	if cfg.StallThreshold < 0 {
		return fmt.Errorf("stall-threshold must be zero or positive")
	}
	if cfg.MaxIOPerSecond < 0 {
		return fmt.Errorf("max-io-per-second must be zero or positive")
	}
	if cfg.ConcurrencyLevel <= 0 {
		return fmt.Errorf("concurrency level must be positive")
	}
	if cfg.NiceLevel != "high" && cfg.NiceLevel != "medium" && cfg.NiceLevel != "low" {
		return fmt.Errorf("invalid nice level: %s", cfg.NiceLevel)
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" &&
		cfg.LogLevel != "error" && cfg.LogLevel != "fatal" && cfg.LogLevel != "panic" {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	return nil
}

func trimItems(items []string) []string {
	trimmed := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		trimmed = append(trimmed, item)
	}
	return trimmed
}

func parseHeaders(input string) map[string]string {
	headers := make(map[string]string)
	if input == "" {
		return headers
	}
	items := strings.Split(input, ",")
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		headers[key] = value
	}
	return headers
}

func normalizeAlgorithms(items []string) []string {
	normalized := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" || containsString(normalized, item) {
			continue
		}
		normalized = append(normalized, item)
	}
	return normalized
}

func containsString(items []string, value string) bool {
	for _, item := range items {
		if item == value {
			return true
		}
	}
	return false
}
