package scanner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"

	"pscx/config"
	"pscx/fuzzy"
	"pscx/hasher"
	"pscx/logger"
	"pscx/metadata"
	"pscx/ntfs"
	"pscx/scanner/prefilter"
	"pscx/tracing"
)

// mimeSniffBytes is the header length filetype needs to match every
// signature it knows.
const mimeSniffBytes = 261

type FileModule interface {
	Name() string
	Enabled(cfg *config.Config) bool
	Collect(ctx context.Context, fc *FileContext, data *FileRecord) error
}

type FileContext struct {
	Path string
	Info os.FileInfo
	Cfg  *config.Config
}

func newFileContext(path string, info os.FileInfo, cfg *config.Config) *FileContext {
	return &FileContext{Path: path, Info: info, Cfg: cfg}
}

func buildFileModules(cfg *config.Config) []FileModule {
	return []FileModule{
		baseModule{},
		xattrModule{},
		newStreamsModule(),
		newStreamContentModule(cfg),
		newReparseModule(),
	}
}

type baseModule struct{}

func (m baseModule) Name() string { return "base" }

func (m baseModule) Enabled(cfg *config.Config) bool { return true }

func (m baseModule) Collect(ctx context.Context, fc *FileContext, data *FileRecord) error {
	data.Name = fc.Info.Name()
	data.IsDir = fc.Info.IsDir()
	if !data.IsDir {
		data.Size = fc.Info.Size()
	}
	data.ModTime = formatTime(fc.Info.ModTime())

	if times, err := fileTimes(fc.Path); err == nil {
		data.CreationTime = times.CreationTime
		data.AccessTime = times.AccessTime
		data.ChangeTime = times.ChangeTime
	}

	data.Attributes = getFileAttributes(fc.Info)
	data.Permissions = fc.Info.Mode().Perm().String()

	if fileID := getFileID(fc.Path, fc.Info); fileID != "" {
		data.FileID = fileID
	}
	return nil
}

type xattrModule struct{}

func (m xattrModule) Name() string { return "xattrs" }

func (m xattrModule) Enabled(cfg *config.Config) bool { return cfg.CollectXattrs }

func (m xattrModule) Collect(ctx context.Context, fc *FileContext, data *FileRecord) error {
	xattrs, err := getXattrs(fc.Path, fc.Cfg.XattrMaxValueSize)
	if errors.Is(err, errNotSupported) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(xattrs) > 0 {
		data.Xattrs = xattrs
	}
	return nil
}

// streamsModule lists the named streams of the file.
type streamsModule struct {
	list func(path string) ([]ntfs.StreamRecord, error)
}

func newStreamsModule() streamsModule {
	return streamsModule{list: ntfs.ListStreams}
}

func (m streamsModule) Name() string { return "streams" }

func (m streamsModule) Enabled(cfg *config.Config) bool { return cfg.ScanStreams }

func (m streamsModule) Collect(ctx context.Context, fc *FileContext, data *FileRecord) error {
	defer tracing.StartRegion(ctx, "list_streams")()
	streams, err := m.list(fc.Path)
	if err != nil {
		if errors.Is(err, ntfs.ErrNotSupported) {
			return nil
		}
		return err
	}
	for _, s := range streams {
		data.Streams = append(data.Streams, StreamInfo{
			Name:       s.Name,
			Type:       s.Type,
			Attributes: s.Attributes,
			Size:       s.Size,
		})
	}
	return nil
}

// streamContentModule reads each listed stream, bounded by MaxStreamSize,
// and records its type, hashes, fuzzy hashes, search hits and document
// properties.
type streamContentModule struct {
	open    func(path, name string) (io.ReadCloser, error)
	fuzzy   []fuzzy.Hasher
	counter prefilter.SearchCounter
	extract func(content []byte, mimeType string) map[string]interface{}
}

func newStreamContentModule(cfg *config.Config) streamContentModule {
	m := streamContentModule{
		open:  ntfs.OpenStream,
		fuzzy: buildFuzzyHashers(cfg),
	}
	if len(cfg.SearchTerms) > 0 {
		m.counter = prefilter.BuildSearchCounter(cfg.SearchTerms, cfg.SearchWide)
	}
	if cfg.StreamMetadata {
		m.extract = metadata.Extract
	}
	return m
}

func (m streamContentModule) Name() string { return "stream_content" }

func (m streamContentModule) Enabled(cfg *config.Config) bool {
	return cfg.ScanStreams && cfg.StreamContent
}

func (m streamContentModule) Collect(ctx context.Context, fc *FileContext, data *FileRecord) error {
	var errs []error
	for i := range data.Streams {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.inspect(ctx, fc, &data.Streams[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m streamContentModule) inspect(ctx context.Context, fc *FileContext, s *StreamInfo) error {
	defer tracing.StartRegion(ctx, "read_stream")()
	rc, err := m.open(fc.Path, s.Name)
	if err != nil {
		return err
	}
	defer rc.Close()

	limit := fc.Cfg.MaxStreamSize
	if limit > 0 && s.Size > limit {
		s.Truncated = true
		head := make([]byte, mimeSniffBytes)
		n, err := io.ReadFull(rc, head)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return err
		}
		s.MimeType = sniffMimeType(head[:n])
		return nil
	}

	var r io.Reader = rc
	if limit > 0 {
		r = io.LimitReader(rc, limit)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.MimeType = sniffMimeType(content)
	if len(fc.Cfg.HashAlgorithms) > 0 {
		label := fc.Path + ":" + s.Name
		s.Hashes = hasher.HashReader(bytes.NewReader(content), int64(len(content)), label, fc.Cfg.HashAlgorithms)
	}
	s.FuzzyHashes = m.fuzzyHashes(fc.Cfg, content)
	if m.counter != nil {
		if hits := m.counter.CountBytes(content); len(hits) > 0 {
			s.SearchHits = hits
		}
	}
	if m.extract != nil {
		s.Metadata = m.extract(content, s.MimeType)
	}
	return nil
}

func (m streamContentModule) fuzzyHashes(cfg *config.Config, content []byte) map[string]string {
	if len(m.fuzzy) == 0 {
		return nil
	}
	size := int64(len(content))
	if size < cfg.FuzzyMinSize {
		return nil
	}
	if cfg.FuzzyMaxSize > 0 && size > cfg.FuzzyMaxSize {
		return nil
	}
	results := make(map[string]string)
	for _, h := range m.fuzzy {
		sum, err := h.HashReader(bytes.NewReader(content))
		if err != nil {
			logger.Debugf("Fuzzy hash %s failed: %v", h.Name(), err)
			continue
		}
		if sum != "" {
			results[h.Name()] = sum
		}
	}
	if len(results) == 0 {
		return nil
	}
	return results
}

// reparseModule decodes the reparse point of files that carry one.
type reparseModule struct {
	isReparse func(path string) (bool, error)
	get       func(path string) (ntfs.ReparsePoint, error)
}

func newReparseModule() reparseModule {
	return reparseModule{isReparse: ntfs.IsReparsePoint, get: ntfs.GetReparsePoint}
}

func (m reparseModule) Name() string { return "reparse" }

func (m reparseModule) Enabled(cfg *config.Config) bool { return cfg.ScanReparse }

func (m reparseModule) Collect(ctx context.Context, fc *FileContext, data *FileRecord) error {
	defer tracing.StartRegion(ctx, "get_reparse_point")()
	ok, err := m.isReparse(fc.Path)
	if err != nil {
		if errors.Is(err, ntfs.ErrNotSupported) {
			return nil
		}
		return err
	}
	if !ok {
		return nil
	}
	rp, err := m.get(fc.Path)
	if err != nil {
		return err
	}
	data.Reparse = &rp
	return nil
}

func buildFuzzyHashers(cfg *config.Config) []fuzzy.Hasher {
	if !cfg.FuzzyHash && len(cfg.FuzzyAlgorithms) == 0 {
		return nil
	}
	hashers := make([]fuzzy.Hasher, 0, len(cfg.FuzzyAlgorithms))
	for _, name := range cfg.FuzzyAlgorithms {
		h, ok := fuzzy.Lookup(name)
		if !ok {
			logger.Warnf("Unsupported fuzzy hash algorithm: %s", name)
			continue
		}
		hashers = append(hashers, h)
	}
	if len(hashers) == 0 && cfg.FuzzyHash {
		if h, ok := fuzzy.Lookup("tlsh"); ok {
			hashers = append(hashers, h)
		}
	}
	return hashers
}

var errNotSupported = errors.New("not supported")
