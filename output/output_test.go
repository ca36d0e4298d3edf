package output

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"pscx/config"
	"pscx/systeminfo"
)

type ndjsonTestRecord struct {
	RecordType    string          `json:"record_type"`
	SchemaVersion string          `json:"schema_version"`
	ScanID        string          `json:"scan_id"`
	Payload       json.RawMessage `json:"payload"`
}

func TestOutputLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ndjson")
	cfg := &config.Config{OutputFileName: path}
	sysInfo := &systeminfo.SystemInfo{Hostname: "host", OSVersion: "Windows 11"}
	w, err := New(cfg, sysInfo, &Metrics{StartTime: "2026-10-19T00:00:00Z"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	w.IncrementScanned()
	w.WriteData(map[string]interface{}{"path": "test", "streams": []interface{}{}})
	w.AddStreams(2)
	w.IncrementReparse()
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	records := readNDJSONRecords(t, path)
	if len(records) != 3 {
		t.Fatalf("expected system_info, file and metrics records, got %d", len(records))
	}
	wantTypes := []string{RecordSystemInfo, RecordFile, RecordMetrics}
	for i, rec := range records {
		if rec.RecordType != wantTypes[i] {
			t.Fatalf("record %d: expected %s, got %s", i, wantTypes[i], rec.RecordType)
		}
		if rec.SchemaVersion != SchemaVersion {
			t.Fatalf("unexpected schema version: %s", rec.SchemaVersion)
		}
		if rec.ScanID != w.ScanID() {
			t.Fatalf("record %d: scan id %q, want %q", i, rec.ScanID, w.ScanID())
		}
	}

	var metrics Metrics
	if err := json.Unmarshal(records[2].Payload, &metrics); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if metrics.FilesScanned != 1 || metrics.FilesProcessed != 1 {
		t.Fatalf("unexpected counters: %+v", metrics)
	}
	if metrics.StreamsFound != 2 || metrics.ReparsePoints != 1 {
		t.Fatalf("unexpected stream counters: %+v", metrics)
	}
	if metrics.EndTime == "" || metrics.ScanID != w.ScanID() {
		t.Fatalf("expected end time and scan id: %+v", metrics)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ndjson")
	w, err := New(&config.Config{OutputFileName: path}, nil, nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := w.WriteRecord(RecordFile, map[string]interface{}{}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if records := readNDJSONRecords(t, path); len(records) != 1 {
		t.Fatalf("expected only the system_info record without metrics, got %d", len(records))
	}
}

func TestNewRequiresOutputName(t *testing.T) {
	if _, err := New(&config.Config{}, nil, nil); err == nil {
		t.Fatal("expected error for empty output file name")
	}
}

func TestWriteDataConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrent.ndjson")
	w, err := New(&config.Config{OutputFileName: path}, nil, &Metrics{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w.WriteData(map[string]interface{}{"path": "file-" + strconv.Itoa(i)})
		}(i)
	}
	wg.Wait()
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	records := readNDJSONRecords(t, path)
	if len(records) != 7 {
		t.Fatalf("expected 7 records, got %d", len(records))
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for i := range 5 {
		if !strings.Contains(string(content), "file-"+strconv.Itoa(i)) {
			t.Fatalf("missing entry %d", i)
		}
	}
}

func TestOutputRotation(t *testing.T) {
	tmpDir := t.TempDir()
	base := filepath.Join(tmpDir, "out.ndjson")

	cfg := &config.Config{OutputFileName: base, MaxOutputFileSize: 200}
	w, err := New(cfg, &systeminfo.SystemInfo{}, &Metrics{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	large := strings.Repeat("a", 150)
	for i := 0; i < 5; i++ {
		w.WriteData(map[string]interface{}{"data": large})
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := os.Stat(base); err != nil {
		t.Fatalf("missing base file: %v", err)
	}
	rotated := strings.TrimSuffix(base, ".ndjson") + ".1.ndjson"
	if _, err := os.Stat(rotated); err != nil {
		t.Fatalf("rotation file not created")
	}
	records := readNDJSONRecords(t, rotated)
	if len(records) == 0 || records[0].RecordType != RecordSystemInfo {
		t.Fatal("rotated file must start with a system_info record")
	}
}

func TestIncrementScanned(t *testing.T) {
	w := &Writer{}
	w.IncrementScanned()
	if got := w.FilesScanned(); got != 1 {
		t.Fatalf("expected FilesScanned=1, got %d", got)
	}
}

func TestShouldSync(t *testing.T) {
	w := &Writer{recordsSinceSync: 1}
	if !w.shouldSync() {
		t.Fatal("expected sync before the first flush")
	}

	w.lastSyncAt = time.Now()
	w.recordsSinceSync = flushEveryRecords
	if !w.shouldSync() {
		t.Fatal("expected sync at flush threshold")
	}

	w.recordsSinceSync = 2
	w.lastSyncAt = time.Now().Add(-flushMaxInterval - time.Millisecond)
	if !w.shouldSync() {
		t.Fatal("expected time-based sync")
	}

	w.recordsSinceSync = 2
	w.lastSyncAt = time.Now()
	if w.shouldSync() {
		t.Fatal("expected no sync when below thresholds")
	}
}

func TestSetMetricsUsesAtomicCounters(t *testing.T) {
	w := &Writer{scanID: "scan"}
	w.filesScanned.Store(3)
	w.filesProcessed.Store(2)
	w.streamsFound.Store(4)

	w.SetMetrics(Metrics{TotalFiles: 10})
	if w.metrics == nil {
		t.Fatal("expected metrics to be set")
	}
	if w.metrics.TotalFiles != 10 {
		t.Fatalf("expected TotalFiles=10, got %d", w.metrics.TotalFiles)
	}
	if w.metrics.FilesScanned != 3 || w.metrics.FilesProcessed != 2 || w.metrics.StreamsFound != 4 {
		t.Fatalf("unexpected counters: %+v", w.metrics)
	}
	if w.metrics.ScanID != "scan" {
		t.Fatalf("unexpected scan id: %s", w.metrics.ScanID)
	}
}

func readNDJSONRecords(t *testing.T, path string) []ndjsonTestRecord {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	var records []ndjsonTestRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec ndjsonTestRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("decode ndjson: %v", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan ndjson: %v", err)
	}
	return records
}
