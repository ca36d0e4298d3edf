package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"runtime"
	"strings"
	"sync"

	"pscx/config"
	"pscx/logger"
	"pscx/ntfs"
	"pscx/output"
	"pscx/utils"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/time/rate"
)

func ScanFiles(ctx context.Context, cfg *config.Config, metrics *output.Metrics, w *output.Writer) error {
	// If cfg.AllDrives is true, scan every fixed NTFS volume
	if cfg.AllDrives {
		drives, err := utils.GetLocalDrives()
		if err != nil {
			return err
		}
		cfg.StartPaths = drives
	}

	if cfg.ScanStreams || cfg.ScanReparse {
		if err := ntfs.EnablePrivileges(); err != nil && !errors.Is(err, ntfs.ErrNotSupported) {
			logger.Warnf("Backup privileges unavailable, some files may be unreadable: %v", err)
		}
	}

	totalFiles := 0
	var bar *progressbar.ProgressBar

	matcher := utils.NewPatternMatcher(cfg.IncludePatterns, cfg.ExcludePatterns)
	walk := selectWalker()

	if cfg.SkipCount {
		logger.Info("Skipping total file count")
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Scanning files"),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetVisibility(progressVisible()),
			progressbar.OptionFullWidth(),
		)
	} else {
		logger.Info("Counting total number of files...")
		for _, startPath := range cfg.StartPaths {
			count, err := countTotalFiles(ctx, walk, startPath, cfg, matcher)
			if err != nil {
				logger.Warnf("Failed to count files in %s: %v", startPath, err)
				continue
			}
			totalFiles += count
		}
		logger.Infof("Total files to scan: %d", totalFiles)
		if metrics != nil {
			metrics.TotalFiles = totalFiles
		}

		bar = progressbar.NewOptions(totalFiles,
			progressbar.OptionSetDescription("Scanning files"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionSetVisibility(progressVisible()),
			progressbar.OptionFullWidth(),
		)
	}

	adjustConcurrency(cfg)

	var ioLimiter *rate.Limiter
	if cfg.MaxIOPerSecond > 0 {
		ioLimiter = rate.NewLimiter(rate.Limit(cfg.MaxIOPerSecond), cfg.MaxIOPerSecond)
	}

	modules := buildFileModules(cfg)
	filesChan := make(chan string, cfg.ConcurrencyLevel)
	progressCh := make(chan int, max(cfg.ConcurrencyLevel*4, 64))
	var progressWG sync.WaitGroup
	progressWG.Add(1)
	go func() {
		defer progressWG.Done()
		for delta := range progressCh {
			_ = bar.Add(delta)
		}
	}()

	go func() {
		defer close(filesChan)
		for _, startPath := range cfg.StartPaths {
			err := walk.Walk(ctx, startPath, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					logger.Warnf("Failed to access %s: %v", path, err)
					return nil
				}
				if !wanted(path, d, cfg, matcher) {
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case filesChan <- path:
				}
				if ioLimiter != nil {
					return ioLimiter.Wait(ctx)
				}
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warnf("Error walking path %s: %v", startPath, err)
			}
		}
	}()

	var wg sync.WaitGroup
	for range cfg.ConcurrencyLevel {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range filesChan {
				if ctx.Err() != nil {
					continue
				}
				processFile(ctx, path, cfg, w, modules)
				progressCh <- 1
			}
		}()
	}

	wg.Wait()
	close(progressCh)
	progressWG.Wait()
	_ = bar.Finish()

	if metrics != nil {
		metrics.FilesScanned = w.FilesScanned()
		metrics.FilesProcessed = w.FilesProcessed()
		if cfg.SkipCount {
			metrics.TotalFiles = int(metrics.FilesScanned)
		}
	}
	return ctx.Err()
}

// wanted reports whether the walked entry becomes a record. Directories only
// do when IncludeDirectories is set; links to directories count as entries.
func wanted(path string, d fs.DirEntry, cfg *config.Config, matcher *utils.PatternMatcher) bool {
	if d == nil {
		return false
	}
	if d.IsDir() && !cfg.IncludeDirectories {
		return false
	}
	return matcher.ShouldInclude(path)
}

func countTotalFiles(ctx context.Context, wk walker, startPath string, cfg *config.Config, matcher *utils.PatternMatcher) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var total int
	err := wk.Walk(ctx, startPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Debugf("Failed to access %s: %v", path, err)
			return nil
		}
		if wanted(path, d, cfg, matcher) {
			total++
		}
		return nil
	})
	return total, err
}

func adjustConcurrency(cfg *config.Config) {
	if cfg.ConcurrencySet {
		if cfg.ConcurrencyLevel < 1 {
			cfg.ConcurrencyLevel = 1
		}
		return
	}
	numCPU := runtime.NumCPU()
	switch cfg.NiceLevel {
	case "high":
		cfg.ConcurrencyLevel = numCPU
	case "medium":
		cfg.ConcurrencyLevel = numCPU / 2
	case "low":
		cfg.ConcurrencyLevel = 1
	}
	if cfg.ConcurrencyLevel < 1 {
		cfg.ConcurrencyLevel = 1
	}
}

func progressVisible() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv("PSCX_DISABLE_PROGRESS")))
	return value != "1" && value != "true" && value != "yes" && value != "on"
}
