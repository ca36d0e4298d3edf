package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"pscx/config"
	"pscx/logger"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otelLog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

type otelLogger struct {
	provider *sdklog.LoggerProvider
	logger   otelLog.Logger
	timeout  time.Duration
	endpoint string
	scanID   string
	policy   otelPolicy
}

// otelPolicy decides which parts of a record leave the host.
type otelPolicy struct {
	includePaths   bool
	includeStreams bool
}

func newOtelLogger(cfg *config.Config) (*otelLogger, error) {
	if cfg == nil {
		return nil, nil
	}
	endpoint := resolveOtelEndpoint(cfg)
	if endpoint == "" {
		return nil, nil
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("otel endpoint must include scheme (http or https)")
	}

	opts := []otlploghttp.Option{otlploghttp.WithEndpointURL(endpoint)}
	if len(cfg.OtelHeaders) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(cfg.OtelHeaders))
	}
	if cfg.OtelTimeout > 0 {
		opts = append(opts, otlploghttp.WithTimeout(cfg.OtelTimeout))
	}

	exp, err := otlploghttp.New(context.Background(), opts...)
	if err != nil {
		return nil, err
	}

	serviceName := cfg.OtelServiceName
	if serviceName == "" {
		serviceName = "pscx"
	}
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	)

	return &otelLogger{
		provider: provider,
		logger:   provider.Logger("pscx"),
		timeout:  cfg.OtelTimeout,
		endpoint: endpoint,
		policy: otelPolicy{
			includePaths:   cfg.OtelExportPaths,
			includeStreams: cfg.OtelExportStreams,
		},
	}, nil
}

func resolveOtelEndpoint(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	if endpoint := strings.TrimSpace(cfg.OtelEndpoint); endpoint != "" {
		return endpoint
	}
	if !cfg.OtelFromEnv {
		return ""
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT")); endpoint != "" {
		return endpoint
	}
	return strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

func (o *otelLogger) Endpoint() string {
	if o == nil {
		return ""
	}
	return o.endpoint
}

func (o *otelLogger) Emit(recordType string, payload interface{}) {
	if o == nil || o.logger == nil {
		return
	}
	safePayload := sanitizePayload(recordType, payload, o.policy)

	now := time.Now()
	var record otelLog.Record
	record.SetTimestamp(now)
	record.SetObservedTimestamp(now)
	record.SetEventName("pscx.record")
	record.AddAttributes(
		otelLog.String("record_type", recordType),
		otelLog.String("schema_version", SchemaVersion),
	)
	if o.scanID != "" {
		record.AddAttributes(otelLog.String("pscx.scan_id", o.scanID))
	}
	if attrs := semanticAttributes(recordType, safePayload, o.policy); len(attrs) > 0 {
		record.AddAttributes(attrs...)
	}

	value := toLogValue(safePayload)
	if value.Kind() == otelLog.KindEmpty {
		value = toLogValue(payloadToMap(safePayload))
	}
	if value.Kind() == otelLog.KindEmpty {
		if data, err := json.Marshal(safePayload); err == nil {
			value = otelLog.StringValue(string(data))
		}
	}
	record.SetBody(value)

	o.logger.Emit(context.Background(), record)
}

func (o *otelLogger) Shutdown() {
	if o == nil || o.provider == nil {
		return
	}
	timeout := o.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := o.provider.Shutdown(ctx); err != nil {
		logger.Debugf("OTEL shutdown failed: %v", err)
	}
}

func sanitizePayload(recordType string, payload interface{}, policy otelPolicy) interface{} {
	data := payloadToMap(payload)
	if len(data) == 0 {
		return payload
	}

	switch recordType {
	case RecordFile:
		sanitized := cloneMap(data)
		if !policy.includePaths {
			delete(sanitized, "path")
			if reparse, ok := sanitized["reparse"].(map[string]interface{}); ok {
				reparse = cloneMap(reparse)
				delete(reparse, "path")
				delete(reparse, "target")
				delete(reparse, "print_name")
				sanitized["reparse"] = reparse
			}
		}
		if !policy.includeStreams {
			if streams, ok := sanitized["streams"].([]interface{}); ok {
				stripped := make([]interface{}, 0, len(streams))
				for _, item := range streams {
					stream, ok := item.(map[string]interface{})
					if !ok {
						continue
					}
					stream = cloneMap(stream)
					delete(stream, "name")
					delete(stream, "search_hits")
					delete(stream, "metadata")
					stripped = append(stripped, stream)
				}
				sanitized["streams"] = stripped
			}
			if xattrs := getFieldValue(sanitized, "xattrs"); xattrs != nil {
				delete(sanitized, "xattrs")
				addSliceCount(sanitized, "xattrs_count", xattrs)
			}
		}
		return sanitized
	case RecordSystemInfo:
		if policy.includePaths {
			return data
		}
		sanitized := map[string]interface{}{}
		for _, key := range []string{"os", "os_version", "platform", "platform_version", "kernel_version", "kernel_arch"} {
			if value := getFieldValue(data, key); value != nil {
				sanitized[key] = value
			}
		}
		if volumes, ok := getFieldValue(data, "volumes").([]interface{}); ok {
			sanitized["volumes_count"] = len(volumes)
			sanitized["named_stream_volumes_count"] = countNamedStreamVolumes(volumes)
		}
		return sanitized
	default:
		return payload
	}
}

func countNamedStreamVolumes(volumes []interface{}) int {
	count := 0
	for _, item := range volumes {
		volume, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if named, ok := volume["named_streams"].(bool); ok && named {
			count++
		}
	}
	return count
}

func addSliceCount(dst map[string]interface{}, key string, value interface{}) {
	if count, ok := valueCount(value); ok {
		dst[key] = count
	}
}

func valueCount(value interface{}) (int, bool) {
	switch v := value.(type) {
	case []interface{}:
		return len(v), true
	case []string:
		return len(v), true
	case map[string]interface{}:
		return len(v), true
	case map[string]string:
		return len(v), true
	default:
		return 0, false
	}
}

func cloneMap(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func toLogValue(value interface{}) otelLog.Value {
	switch v := value.(type) {
	case nil:
		return otelLog.Value{}
	case string:
		return otelLog.StringValue(v)
	case []byte:
		return otelLog.BytesValue(v)
	case bool:
		return otelLog.BoolValue(v)
	case int:
		return otelLog.IntValue(v)
	case int64:
		return otelLog.Int64Value(v)
	case float64:
		return otelLog.Float64Value(v)
	case float32:
		return otelLog.Float64Value(float64(v))
	case map[string]interface{}:
		return otelLog.MapValue(toLogKeyValues(v)...)
	case map[string]string:
		kvs := make([]otelLog.KeyValue, 0, len(v))
		for _, k := range sortedKeys(v) {
			kvs = append(kvs, otelLog.String(k, v[k]))
		}
		return otelLog.MapValue(kvs...)
	case map[string]int:
		kvs := make([]otelLog.KeyValue, 0, len(v))
		for _, k := range sortedKeys(v) {
			kvs = append(kvs, otelLog.Int(k, v[k]))
		}
		return otelLog.MapValue(kvs...)
	case []string:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, otelLog.StringValue(item))
		}
		return otelLog.SliceValue(values...)
	case []int:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, otelLog.IntValue(item))
		}
		return otelLog.SliceValue(values...)
	case []int64:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, otelLog.Int64Value(item))
		}
		return otelLog.SliceValue(values...)
	case []interface{}:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, toLogValue(item))
		}
		return otelLog.SliceValue(values...)
	default:
		return otelLog.Value{}
	}
}

func toLogKeyValues(values map[string]interface{}) []otelLog.KeyValue {
	kvs := make([]otelLog.KeyValue, 0, len(values))
	for _, key := range sortedKeys(values) {
		kvs = append(kvs, otelLog.KeyValue{Key: key, Value: toLogValue(values[key])})
	}
	return kvs
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func semanticAttributes(recordType string, payload interface{}, policy otelPolicy) []otelLog.KeyValue {
	data := payloadToMap(payload)
	if len(data) == 0 {
		return nil
	}

	switch recordType {
	case RecordFile:
		return fileSemanticAttributes(data, policy)
	case RecordSystemInfo:
		return systemSemanticAttributes(data, policy)
	case RecordMetrics:
		return metricsSemanticAttributes(data)
	default:
		return nil
	}
}

func fileSemanticAttributes(data map[string]interface{}, policy otelPolicy) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue

	path := getStringField(data, "path")
	name := getStringField(data, "name")
	if name == "" && path != "" {
		name = filepath.Base(path)
	}
	if policy.includePaths && path != "" {
		kvs = append(kvs, otelLog.String(string(semconv.FilePathKey), path))
		kvs = append(kvs, otelLog.String(string(semconv.FileDirectoryKey), filepath.Dir(path)))
		ext := strings.TrimPrefix(filepath.Ext(path), ".")
		if ext != "" {
			kvs = append(kvs, otelLog.String(string(semconv.FileExtensionKey), ext))
		}
	}
	if name != "" {
		kvs = append(kvs, otelLog.String(string(semconv.FileNameKey), name))
	}
	if size, ok := getInt64Field(data, "size"); ok {
		kvs = append(kvs, otelLog.Int64(string(semconv.FileSizeKey), size))
	}

	kvs = appendStringAttr(kvs, "pscx.file.mod_time", getStringField(data, "mod_time"))
	kvs = appendStringAttr(kvs, "pscx.file.creation_time", getStringField(data, "creation_time"))
	kvs = appendStringAttr(kvs, "pscx.file.access_time", getStringField(data, "access_time"))
	kvs = appendStringAttr(kvs, "pscx.file.change_time", getStringField(data, "change_time"))
	kvs = appendStringAttr(kvs, "pscx.file.permissions", getStringField(data, "permissions"))
	kvs = appendStringAttr(kvs, "pscx.file.id", getStringField(data, "file_id"))

	if attrs := getStringSliceField(data, "attributes"); len(attrs) > 0 {
		kvs = append(kvs, otelLog.KeyValue{Key: "pscx.file.attributes", Value: toLogValue(attrs)})
	}

	kvs = append(kvs, streamSemanticAttributes(data, policy)...)
	kvs = append(kvs, reparseSemanticAttributes(data, policy)...)

	if policy.includeStreams {
		kvs = appendInterfaceAttr(kvs, "pscx.file.xattrs", getFieldValue(data, "xattrs"))
	} else if count, ok := getInt64Field(data, "xattrs_count"); ok {
		kvs = appendCountAttr(kvs, "pscx.file.xattrs_count", count)
	}

	return kvs
}

// streamSemanticAttributes summarizes the named streams of a file record.
// Counts, sizes and payload hashes are always exported; hashes are grouped
// per algorithm in stream order. Names and search hits need includeStreams.
func streamSemanticAttributes(data map[string]interface{}, policy otelPolicy) []otelLog.KeyValue {
	streams, ok := getFieldValue(data, "streams").([]interface{})
	if !ok || len(streams) == 0 {
		return nil
	}
	var (
		total    int64
		names    []string
		mimes    []string
		mimeSeen = map[string]bool{}
		hashes   = map[string][]string{}
		fuzzy    = map[string][]string{}
		hits     = map[string]int64{}
	)
	for _, item := range streams {
		stream, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if size, ok := getInt64Field(stream, "size"); ok {
			total += size
		}
		if name := getStringField(stream, "name"); name != "" {
			names = append(names, name)
		}
		if mime := getStringField(stream, "mime_type"); mime != "" && !mimeSeen[mime] {
			mimeSeen[mime] = true
			mimes = append(mimes, mime)
		}
		for algo, value := range getStringMapField(stream, "hashes") {
			hashes[algo] = append(hashes[algo], value)
		}
		for algo, value := range getStringMapField(stream, "fuzzy_hashes") {
			fuzzy[algo] = append(fuzzy[algo], value)
		}
		if streamHits, ok := getFieldValue(stream, "search_hits").(map[string]interface{}); ok {
			for term := range streamHits {
				if count, ok := getInt64Field(streamHits, term); ok {
					hits[term] += count
				}
			}
		}
	}

	kvs := []otelLog.KeyValue{
		otelLog.Int64("pscx.file.stream_count", int64(len(streams))),
		otelLog.Int64("pscx.file.stream_bytes", total),
	}
	if len(mimes) > 0 {
		kvs = append(kvs, otelLog.KeyValue{Key: "pscx.file.stream_mime_types", Value: toLogValue(mimes)})
	}
	for _, algo := range sortedKeys(hashes) {
		kvs = append(kvs, otelLog.KeyValue{Key: "pscx.file.stream_hash." + algo, Value: toLogValue(hashes[algo])})
	}
	for _, algo := range sortedKeys(fuzzy) {
		kvs = append(kvs, otelLog.KeyValue{Key: "pscx.file.stream_fuzzy_hash." + algo, Value: toLogValue(fuzzy[algo])})
	}
	if policy.includeStreams {
		if len(names) > 0 {
			kvs = append(kvs, otelLog.KeyValue{Key: "pscx.file.stream_names", Value: toLogValue(names)})
		}
		if len(hits) > 0 {
			values := make([]otelLog.KeyValue, 0, len(hits))
			for _, term := range sortedKeys(hits) {
				values = append(values, otelLog.Int64(term, hits[term]))
			}
			kvs = append(kvs, otelLog.KeyValue{Key: "pscx.file.search_hits", Value: otelLog.MapValue(values...)})
		}
	}
	return kvs
}

func reparseSemanticAttributes(data map[string]interface{}, policy otelPolicy) []otelLog.KeyValue {
	reparse, ok := getFieldValue(data, "reparse").(map[string]interface{})
	if !ok {
		return nil
	}
	var kvs []otelLog.KeyValue
	kvs = appendStringAttr(kvs, "pscx.reparse.tag", getStringField(reparse, "tag"))
	kvs = appendStringAttr(kvs, "pscx.reparse.kind", getStringField(reparse, "kind"))
	if policy.includePaths {
		kvs = appendStringAttr(kvs, "pscx.reparse.target", getStringField(reparse, "target"))
	}
	return kvs
}

func systemSemanticAttributes(data map[string]interface{}, policy otelPolicy) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue

	kvs = appendStringAttr(kvs, string(semconv.OSDescriptionKey), getStringField(data, "os_version"))
	kvs = appendStringAttr(kvs, string(semconv.OSTypeKey), getStringField(data, "os"))
	kvs = appendStringAttr(kvs, string(semconv.OSVersionKey), getStringField(data, "platform_version"))
	kvs = appendStringAttr(kvs, "pscx.system.kernel_version", getStringField(data, "kernel_version"))
	kvs = appendStringAttr(kvs, "pscx.system.kernel_arch", getStringField(data, "kernel_arch"))

	if policy.includePaths {
		kvs = appendStringAttr(kvs, string(semconv.HostNameKey), getStringField(data, "hostname"))
		kvs = appendInterfaceAttr(kvs, "pscx.system.volumes", getFieldValue(data, "volumes"))
	}

	kvs = appendCountAttr(
		kvs,
		"pscx.system.volumes_count",
		getCountFieldOrSliceLength(data, "volumes_count", "volumes"),
	)
	named, ok := getInt64Field(data, "named_stream_volumes_count")
	if !ok {
		volumes, _ := getFieldValue(data, "volumes").([]interface{})
		named = int64(countNamedStreamVolumes(volumes))
	}
	kvs = appendCountAttr(kvs, "pscx.system.named_stream_volumes_count", named)

	return kvs
}

func metricsSemanticAttributes(data map[string]interface{}) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue

	kvs = appendStringAttr(kvs, "pscx.metrics.start_time", getStringField(data, "start_time"))
	kvs = appendStringAttr(kvs, "pscx.metrics.end_time", getStringField(data, "end_time"))
	for _, key := range []string{"total_files", "files_scanned", "files_processed", "streams_found", "reparse_points"} {
		value, ok := getInt64Field(data, key)
		kvs = appendInt64Attr(kvs, "pscx.metrics."+key, value, ok)
	}

	return kvs
}

func payloadToMap(payload interface{}) map[string]interface{} {
	switch v := payload.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		return v
	case map[string]string:
		out := make(map[string]interface{}, len(v))
		for key, value := range v {
			out[key] = value
		}
		return out
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil
		}
		return decoded
	}
}

func getFieldValue(values map[string]interface{}, key string) interface{} {
	if values == nil {
		return nil
	}
	return values[key]
}

func getStringField(values map[string]interface{}, key string) string {
	value, ok := values[key]
	if !ok {
		return ""
	}
	if str, ok := value.(string); ok {
		return str
	}
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

func getInt64Field(values map[string]interface{}, key string) (int64, bool) {
	value, ok := values[key]
	if !ok || value == nil {
		return 0, false
	}
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case float32:
		return int64(v), true
	case json.Number:
		if parsed, err := v.Int64(); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func getStringSliceField(values map[string]interface{}, key string) []string {
	value, ok := values[key]
	if !ok || value == nil {
		return nil
	}
	switch v := value.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return nil
	}
}

func getStringMapField(values map[string]interface{}, key string) map[string]string {
	value, ok := values[key]
	if !ok || value == nil {
		return nil
	}
	switch v := value.(type) {
	case map[string]string:
		return v
	case map[string]interface{}:
		out := make(map[string]string, len(v))
		for k, val := range v {
			if val == nil {
				continue
			}
			out[k] = fmt.Sprint(val)
		}
		return out
	default:
		return nil
	}
}

func getCountFieldOrSliceLength(values map[string]interface{}, countKey, sliceKey string) int64 {
	if count, ok := getInt64Field(values, countKey); ok {
		return count
	}
	if count, ok := valueCount(getFieldValue(values, sliceKey)); ok {
		return int64(count)
	}
	return 0
}

func appendStringAttr(kvs []otelLog.KeyValue, key, value string) []otelLog.KeyValue {
	if value == "" {
		return kvs
	}
	return append(kvs, otelLog.String(key, value))
}

func appendInt64Attr(kvs []otelLog.KeyValue, key string, value int64, ok bool) []otelLog.KeyValue {
	if !ok {
		return kvs
	}
	return append(kvs, otelLog.Int64(key, value))
}

func appendCountAttr(kvs []otelLog.KeyValue, key string, count int64) []otelLog.KeyValue {
	if count <= 0 {
		return kvs
	}
	return append(kvs, otelLog.Int64(key, count))
}

func appendInterfaceAttr(kvs []otelLog.KeyValue, key string, value interface{}) []otelLog.KeyValue {
	if value == nil {
		return kvs
	}
	converted := toLogValue(value)
	if converted.Kind() == otelLog.KindEmpty {
		return kvs
	}
	return append(kvs, otelLog.KeyValue{Key: key, Value: converted})
}
