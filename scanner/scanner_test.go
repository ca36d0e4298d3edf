package scanner

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"pscx/config"
	"pscx/logger"
	"pscx/ntfs"
	"pscx/output"
)

func init() {
	logger.Init("error")
}

func testConfig(paths ...string) *config.Config {
	cfg := config.Defaults()
	cfg.StartPaths = paths
	cfg.ConcurrencyLevel = 2
	cfg.ConcurrencySet = true
	cfg.MaxIOPerSecond = 0
	return cfg
}

func TestFileIDSharedByHardLinks(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	other := filepath.Join(dir, "other.txt")
	for _, p := range []string{a, other} {
		if err := os.WriteFile(p, []byte(p), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.Link(a, b); err != nil {
		t.Skipf("hard links unavailable: %v", err)
	}
	id := func(p string) string {
		info, err := os.Lstat(p)
		if err != nil {
			t.Fatalf("lstat: %v", err)
		}
		return getFileID(p, info)
	}
	if id(a) == "" || !strings.HasPrefix(id(a), "vol=") {
		t.Fatalf("unexpected file id %q", id(a))
	}
	if id(a) != id(b) {
		t.Fatalf("hard links should share an id: %q vs %q", id(a), id(b))
	}
	if id(a) == id(other) {
		t.Fatalf("distinct files share id %q", id(a))
	}
}

func TestIsHidden(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("hidden is an attribute bit on windows")
	}
	dir := t.TempDir()
	hidden := filepath.Join(dir, ".hidden")
	visible := filepath.Join(dir, "visible")
	for _, p := range []string{hidden, visible} {
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	fi, _ := os.Stat(hidden)
	if !isHidden(fi) {
		t.Fatal("expected hidden")
	}
	fi2, _ := os.Stat(visible)
	if isHidden(fi2) {
		t.Fatal("expected visible")
	}
}

func TestGetFileAttributes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attr")
	if err := os.WriteFile(path, nil, 0o444); err != nil {
		t.Fatalf("write: %v", err)
	}
	fi, _ := os.Stat(path)
	attrs := getFileAttributes(fi)
	found := false
	for _, a := range attrs {
		if a == "read-only" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected read-only attribute, got %v", attrs)
	}
}

func TestSniffMimeType(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"png", png, "image/png"},
		{"zone identifier", []byte("[ZoneTransfer]\r\nZoneId=3\r\n"), "text/plain"},
		{"empty", nil, "application/x-empty"},
		{"binary", []byte{0, 1, 2, 3, 0, 0, 0xff}, "unknown"},
	}
	for _, tc := range cases {
		if got := sniffMimeType(tc.data); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestLooksLikeTextSplitRune(t *testing.T) {
	sample := []byte("caf\xc3\xa9 caf\xc3")
	if !looksLikeText(sample) {
		t.Fatal("a rune cut at the end should not make text binary")
	}
	if looksLikeText([]byte{0xff, 0xfe, 0xfd, 0xfc, 0xfb}) {
		t.Fatal("invalid utf-8 should not be text")
	}
}

func TestStreamsModule(t *testing.T) {
	m := streamsModule{list: func(path string) ([]ntfs.StreamRecord, error) {
		return []ntfs.StreamRecord{
			{Type: ntfs.StreamAlternateData, Size: 26, Name: "Zone.Identifier"},
			{Type: ntfs.StreamAlternateData, Attributes: ntfs.StreamSparse, Size: 4096, Name: "payload"},
		}, nil
	}}
	fc := &FileContext{Path: "report.txt", Cfg: testConfig(".")}
	var rec FileRecord
	if err := m.Collect(context.Background(), fc, &rec); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(rec.Streams) != 2 || rec.Streams[0].Name != "Zone.Identifier" || rec.Streams[1].Attributes != ntfs.StreamSparse {
		t.Fatalf("unexpected streams: %+v", rec.Streams)
	}

	unsupported := streamsModule{list: func(path string) ([]ntfs.StreamRecord, error) {
		return nil, &ntfs.OpError{Op: "list streams", Path: path, Err: ntfs.ErrNotSupported}
	}}
	rec = FileRecord{}
	if err := unsupported.Collect(context.Background(), fc, &rec); err != nil {
		t.Fatalf("unsupported platforms should not fail: %v", err)
	}
	if rec.Streams != nil {
		t.Fatalf("expected no streams, got %+v", rec.Streams)
	}
}

func fakeStreams(contents map[string]string) func(path, name string) (io.ReadCloser, error) {
	return func(path, name string) (io.ReadCloser, error) {
		c, ok := contents[name]
		if !ok {
			return nil, os.ErrNotExist
		}
		return io.NopCloser(strings.NewReader(c)), nil
	}
}

func TestStreamContentModule(t *testing.T) {
	zone := "[ZoneTransfer]\r\nZoneId=3\r\n"
	cfg := testConfig(".")
	cfg.HashAlgorithms = []string{"sha256"}
	cfg.SearchTerms = []string{"ZoneId", "absent"}

	m := newStreamContentModule(cfg)
	m.open = fakeStreams(map[string]string{"Zone.Identifier": zone})

	rec := FileRecord{Streams: []StreamInfo{
		{Name: "Zone.Identifier", Type: ntfs.StreamAlternateData, Size: int64(len(zone))},
		{Name: "gone", Type: ntfs.StreamAlternateData, Size: 3},
	}}
	err := m.Collect(context.Background(), &FileContext{Path: "f", Cfg: cfg}, &rec)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected the unreadable stream to be reported, got %v", err)
	}

	s := rec.Streams[0]
	if s.MimeType != "text/plain" {
		t.Fatalf("unexpected mime type %q", s.MimeType)
	}
	sum := sha256.Sum256([]byte(zone))
	if s.Hashes["sha256"] != hex.EncodeToString(sum[:]) {
		t.Fatalf("unexpected hash %v", s.Hashes)
	}
	if s.SearchHits["ZoneId"] != 1 || len(s.SearchHits) != 1 {
		t.Fatalf("unexpected search hits %v", s.SearchHits)
	}
	if s.Truncated || s.FuzzyHashes != nil {
		t.Fatalf("unexpected stream info %+v", s)
	}
	if rec.Streams[1].MimeType != "" {
		t.Fatal("unreadable stream should stay without content fields")
	}
}

// exifJPEG returns a JPEG whose only segment is an APP1 block naming the
// camera make.
func exifJPEG(camera string) string {
	le := binary.LittleEndian
	value := append([]byte(camera), 0)
	tiff := make([]byte, 8+2+12+4)
	copy(tiff, "II*\x00")
	le.PutUint32(tiff[4:8], 8)
	le.PutUint16(tiff[8:10], 1)
	le.PutUint16(tiff[10:12], 0x010F)
	le.PutUint16(tiff[12:14], 2)
	le.PutUint32(tiff[14:18], uint32(len(value)))
	le.PutUint32(tiff[18:22], uint32(len(tiff)))
	tiff = append(tiff, value...)

	payload := append([]byte("Exif\x00\x00"), tiff...)
	out := []byte{0xFF, 0xD8, 0xFF, 0xE1, 0, 0}
	binary.BigEndian.PutUint16(out[4:6], uint16(len(payload)+2))
	out = append(out, payload...)
	return string(append(out, 0xFF, 0xD9))
}

func TestStreamContentModuleMetadata(t *testing.T) {
	photo := exifJPEG("Nikon")
	rec := func(cfg *config.Config) StreamInfo {
		m := newStreamContentModule(cfg)
		m.open = fakeStreams(map[string]string{"hidden.jpg": photo})
		r := FileRecord{Streams: []StreamInfo{{Name: "hidden.jpg", Size: int64(len(photo))}}}
		if err := m.Collect(context.Background(), &FileContext{Path: "f", Cfg: cfg}, &r); err != nil {
			t.Fatalf("collect: %v", err)
		}
		return r.Streams[0]
	}

	s := rec(testConfig("."))
	if s.MimeType != "image/jpeg" {
		t.Fatalf("unexpected mime type %q", s.MimeType)
	}
	if s.Metadata["make"] != "Nikon" {
		t.Fatalf("unexpected metadata %v", s.Metadata)
	}

	cfg := testConfig(".")
	cfg.StreamMetadata = false
	if s := rec(cfg); s.Metadata != nil {
		t.Fatalf("metadata extraction should be disabled, got %v", s.Metadata)
	}
}

func TestStreamContentModuleTruncates(t *testing.T) {
	cfg := testConfig(".")
	cfg.MaxStreamSize = 8
	m := newStreamContentModule(cfg)
	m.open = fakeStreams(map[string]string{"big": strings.Repeat("text ", 10)})

	rec := FileRecord{Streams: []StreamInfo{{Name: "big", Size: 50}}}
	if err := m.Collect(context.Background(), &FileContext{Path: "f", Cfg: cfg}, &rec); err != nil {
		t.Fatalf("collect: %v", err)
	}
	s := rec.Streams[0]
	if !s.Truncated || s.Hashes != nil {
		t.Fatalf("oversized stream must be truncated without hashes: %+v", s)
	}
	if s.MimeType != "text/plain" {
		t.Fatalf("oversized stream still gets a mime type, got %q", s.MimeType)
	}
}

func TestStreamContentModuleFuzzyBounds(t *testing.T) {
	cfg := testConfig(".")
	cfg.FuzzyHash = true
	cfg.FuzzyMinSize = 1024
	m := newStreamContentModule(cfg)
	if len(m.fuzzy) == 0 {
		t.Fatal("expected tlsh to be selected")
	}
	if got := m.fuzzyHashes(cfg, []byte("short")); got != nil {
		t.Fatalf("content below the minimum must not be hashed: %v", got)
	}
}

func TestStreamContentDisabled(t *testing.T) {
	cfg := testConfig(".")
	cfg.StreamContent = false
	if newStreamContentModule(cfg).Enabled(cfg) {
		t.Fatal("content module should follow StreamContent")
	}
	cfg.StreamContent = true
	cfg.ScanStreams = false
	if newStreamContentModule(cfg).Enabled(cfg) {
		t.Fatal("content module needs stream listing")
	}
}

func TestReparseModule(t *testing.T) {
	point := ntfs.ReparsePoint{Path: "link", Tag: ntfs.TagMountPoint, Kind: ntfs.KindMountPoint, Target: `C:\target\`}
	m := reparseModule{
		isReparse: func(path string) (bool, error) { return path == "link", nil },
		get:       func(path string) (ntfs.ReparsePoint, error) { return point, nil },
	}
	cfg := testConfig(".")

	var rec FileRecord
	if err := m.Collect(context.Background(), &FileContext{Path: "link", Cfg: cfg}, &rec); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if rec.Reparse == nil || rec.Reparse.Target != `C:\target\` {
		t.Fatalf("unexpected reparse: %+v", rec.Reparse)
	}

	rec = FileRecord{}
	if err := m.Collect(context.Background(), &FileContext{Path: "plain", Cfg: cfg}, &rec); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if rec.Reparse != nil {
		t.Fatal("plain files carry no reparse data")
	}
}

func TestFileRecordJSON(t *testing.T) {
	rec := FileRecord{
		Path:    "f",
		Streams: []StreamInfo{{Name: "s", Type: ntfs.StreamAlternateData, Size: 1}},
	}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"type":"ALTERNATE_DATA"`) || !strings.Contains(string(data), `"attributes":"NORMAL"`) {
		t.Fatalf("stream type and attributes should marshal as names: %s", data)
	}
	if strings.Contains(string(data), `"reparse"`) {
		t.Fatalf("absent reparse point should be omitted: %s", data)
	}
	if !rec.HasSignalData() || (&FileRecord{}).HasSignalData() {
		t.Fatal("unexpected HasSignalData result")
	}
}

type failingModule struct{ err error }

func (m failingModule) Name() string { return "failing" }
func (m failingModule) Enabled(cfg *config.Config) bool { return true }
func (m failingModule) Collect(ctx context.Context, fc *FileContext, data *FileRecord) error {
	return m.err
}

func TestCollectFileDataSkipsModuleErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, _ := os.Lstat(path)
	cfg := testConfig(filepath.Dir(path))

	rec, err := collectFileData(context.Background(), path, info, cfg, []FileModule{failingModule{errors.New("boom")}, baseModule{}})
	if err != nil {
		t.Fatalf("module errors should not abort the record: %v", err)
	}
	if rec.Name != "a.txt" || rec.Size != 5 || rec.ModTime == "" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	_, err = collectFileData(context.Background(), path, info, cfg, []FileModule{failingModule{context.Canceled}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to abort, got %v", err)
	}
}

func TestWalkOrderAndLinks(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"c.txt", "a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(root, name), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	hasLink := os.Symlink(root, filepath.Join(root, "loop")) == nil

	var visited []string
	err := selectWalker().Walk(context.Background(), root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		visited = append(visited, rel)
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	want := []string{".", "a.txt", "b.txt", "c.txt"}
	if hasLink {
		want = append(want, "loop")
	}
	if strings.Join(visited, ",") != strings.Join(want, ",") {
		t.Fatalf("visited %v, want %v", visited, want)
	}
}

func TestWalkStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := selectWalker().Walk(ctx, t.TempDir(), func(string, fs.DirEntry, error) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAdjustConcurrency(t *testing.T) {
	cfg := &config.Config{NiceLevel: "low", ConcurrencyLevel: 8}
	adjustConcurrency(cfg)
	if cfg.ConcurrencyLevel != 1 {
		t.Fatalf("low should use one worker, got %d", cfg.ConcurrencyLevel)
	}
	cfg = &config.Config{NiceLevel: "medium"}
	adjustConcurrency(cfg)
	if cfg.ConcurrencyLevel < 1 {
		t.Fatalf("medium needs at least one worker, got %d", cfg.ConcurrencyLevel)
	}
	cfg = &config.Config{NiceLevel: "low", ConcurrencyLevel: 3, ConcurrencySet: true}
	adjustConcurrency(cfg)
	if cfg.ConcurrencyLevel != 3 {
		t.Fatalf("explicit concurrency must win, got %d", cfg.ConcurrencyLevel)
	}
}

func TestProgressVisible(t *testing.T) {
	t.Setenv("PSCX_DISABLE_PROGRESS", "yes")
	if progressVisible() {
		t.Fatal("expected progress to be hidden")
	}
	t.Setenv("PSCX_DISABLE_PROGRESS", "")
	if !progressVisible() {
		t.Fatal("expected progress to be visible")
	}
}

func TestScanFiles(t *testing.T) {
	t.Setenv("PSCX_DISABLE_PROGRESS", "1")
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files := []string{filepath.Join(root, "a.txt"), filepath.Join(root, "sub", "b.bin"), filepath.Join(root, "skip.log")}
	for _, f := range files {
		if err := os.WriteFile(f, []byte("content"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	for _, skipCount := range []bool{true, false} {
		cfg := testConfig(root)
		cfg.IncludeDirectories = false
		cfg.SkipCount = skipCount
		cfg.ExcludePatterns = []string{"*.log"}
		cfg.OutputFileName = filepath.Join(t.TempDir(), "scan.ndjson")

		metrics := &output.Metrics{}
		w, err := output.New(cfg, nil, metrics)
		if err != nil {
			t.Fatalf("output: %v", err)
		}
		if err := ScanFiles(context.Background(), cfg, metrics, w); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		if metrics.FilesScanned != 2 || metrics.TotalFiles != 2 {
			t.Fatalf("skipCount=%t: unexpected metrics %+v", skipCount, metrics)
		}

		paths := filePaths(t, cfg.OutputFileName)
		if len(paths) != 2 || !paths[files[0]] || !paths[files[1]] {
			t.Fatalf("skipCount=%t: unexpected file records %v", skipCount, paths)
		}
	}
}

func TestScanFilesIncludesDirectories(t *testing.T) {
	t.Setenv("PSCX_DISABLE_PROGRESS", "1")
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cfg := testConfig(root)
	cfg.OutputFileName = filepath.Join(t.TempDir(), "scan.ndjson")
	w, err := output.New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("output: %v", err)
	}
	if err := ScanFiles(context.Background(), cfg, nil, w); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	paths := filePaths(t, cfg.OutputFileName)
	if !paths[root] || !paths[filepath.Join(root, "sub")] {
		t.Fatalf("expected directory records, got %v", paths)
	}
}

func filePaths(t *testing.T, path string) map[string]bool {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	paths := make(map[string]bool)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec struct {
			RecordType string `json:"record_type"`
			Payload    struct {
				Path string `json:"path"`
			} `json:"payload"`
		}
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if rec.RecordType == output.RecordFile {
			paths[rec.Payload.Path] = true
		}
	}
	return paths
}
