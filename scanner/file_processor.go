package scanner

import (
	"context"
	"errors"
	"os"
	"unicode/utf8"

	"pscx/config"
	"pscx/logger"
	"pscx/output"
	"pscx/tracing"
	"pscx/utils"

	"github.com/h2non/filetype"
)

// processFile collects one record for path and writes it. Failures of single
// modules are logged and leave their fields empty.
func processFile(ctx context.Context, path string, cfg *config.Config, w *output.Writer, modules []FileModule) {
	ctx, endTask := tracing.StartTask(ctx, "process_file")
	tracing.Log(ctx, "file", path)
	defer endTask()

	if ctx.Err() != nil {
		return
	}
	if !utils.IsPathWithin(path, cfg.StartPaths) {
		logger.Warnf("Skipping file outside target paths: %s", path)
		return
	}

	// Lstat keeps links and junctions as themselves rather than their targets.
	fileInfo, err := os.Lstat(path)
	if err != nil {
		logger.Warnf("Failed to stat file %s: %v", path, err)
		return
	}
	if fileInfo.IsDir() && !cfg.IncludeDirectories {
		return
	}

	w.IncrementScanned()

	endRegion := tracing.StartRegion(ctx, "collect_file_data")
	record, err := collectFileData(ctx, path, fileInfo, cfg, modules)
	endRegion()
	if err != nil {
		logger.Warnf("Failed to process file %s: %v", path, err)
		return
	}

	if record.HasSignalData() {
		logger.Debugf("%s: %d named streams, reparse=%t", path, len(record.Streams), record.Reparse != nil)
	}
	w.AddStreams(len(record.Streams))
	if record.Reparse != nil {
		w.IncrementReparse()
	}
	w.WriteData(record)
}

func collectFileData(ctx context.Context, path string, fileInfo os.FileInfo, cfg *config.Config, modules []FileModule) (*FileRecord, error) {
	record := &FileRecord{Path: path}
	fc := newFileContext(path, fileInfo, cfg)
	for _, module := range modules {
		if !module.Enabled(cfg) {
			continue
		}
		if err := module.Collect(ctx, fc, record); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return record, err
			}
			logger.Debugf("Module %s failed for %s: %v", module.Name(), path, err)
		}
	}
	return record, nil
}

func sniffMimeType(head []byte) string {
	if len(head) == 0 {
		return "application/x-empty"
	}
	if len(head) > mimeSniffBytes {
		head = head[:mimeSniffBytes]
	}
	kind, err := filetype.Match(head)
	if err == nil && kind != filetype.Unknown && kind.MIME.Value != "" {
		return kind.MIME.Value
	}
	if looksLikeText(head) {
		return "text/plain"
	}
	return "unknown"
}

func looksLikeText(sample []byte) bool {
	if len(sample) == 0 {
		return false
	}
	// A cut at the sniff boundary may split a rune.
	for i := 0; i < utf8.UTFMax && len(sample) > 0 && !utf8.Valid(sample); i++ {
		sample = sample[:len(sample)-1]
	}
	if len(sample) == 0 || !utf8.Valid(sample) {
		return false
	}
	var control int
	for _, b := range sample {
		if b == 0 {
			return false
		}
		if b < 0x09 || (b > 0x0D && b < 0x20) {
			control++
		}
	}
	return control <= len(sample)/10
}
