package output

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pscx/config"
	"pscx/logger"
	"pscx/systeminfo"

	"github.com/google/uuid"
)

// SchemaVersion is stamped on every record so consumers can detect layout
// changes of the payloads.
const SchemaVersion = "1.0"

const (
	RecordSystemInfo = "system_info"
	RecordFile       = "file"
	RecordMetrics    = "metrics"
)

const (
	flushEveryRecords = 256
	flushMaxInterval  = 2 * time.Second
	writeBufferSize   = 1024 * 1024
)

var ErrClosed = errors.New("output writer closed")

type Metrics struct {
	ScanID         string `json:"scan_id,omitempty"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	TotalFiles     int    `json:"total_files"`
	FilesScanned   int64  `json:"files_scanned"`
	FilesProcessed int64  `json:"files_processed"`
	StreamsFound   int64  `json:"streams_found"`
	ReparsePoints  int64  `json:"reparse_points"`
}

type record struct {
	RecordType    string      `json:"record_type"`
	SchemaVersion string      `json:"schema_version"`
	ScanID        string      `json:"scan_id,omitempty"`
	Timestamp     string      `json:"timestamp"`
	Payload       interface{} `json:"payload"`
}

// Writer emits NDJSON records to a size-rotated file set and mirrors them
// to the OTLP exporter when one is configured. It is safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	cfg     *config.Config
	sysInfo *systeminfo.SystemInfo
	metrics *Metrics
	otel    *otelLogger
	scanID  string
	base    string
	ext     string
	index   int
	written int64
	closed  bool

	recordsSinceSync int
	lastSyncAt       time.Time

	filesScanned   atomic.Int64
	filesProcessed atomic.Int64
	streamsFound   atomic.Int64
	reparsePoints  atomic.Int64
}

// New creates the first output file and writes the system_info record.
func New(cfg *config.Config, sysInfo *systeminfo.SystemInfo, m *Metrics) (*Writer, error) {
	if cfg == nil || strings.TrimSpace(cfg.OutputFileName) == "" {
		return nil, fmt.Errorf("output file name must not be empty")
	}
	ext := filepath.Ext(cfg.OutputFileName)
	base := strings.TrimSuffix(cfg.OutputFileName, ext)

	if sysInfo == nil {
		sysInfo = &systeminfo.SystemInfo{}
	}

	w := &Writer{
		cfg:     cfg,
		sysInfo: sysInfo,
		metrics: m,
		scanID:  uuid.NewString(),
		base:    base,
		ext:     ext,
	}
	if m != nil {
		m.ScanID = w.scanID
	}
	otel, err := newOtelLogger(cfg)
	if err != nil {
		logger.Warnf("OTEL export disabled: %v", err)
	} else if otel != nil {
		otel.scanID = w.scanID
		w.otel = otel
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.openFile(); err != nil {
		return nil, err
	}
	w.emitRecordLocked(RecordSystemInfo, w.sysInfo)
	return w, nil
}

// ScanID identifies the records of one run across rotated files.
func (w *Writer) ScanID() string {
	return w.scanID
}

func (w *Writer) fileName() string {
	if w.index > 0 {
		return fmt.Sprintf("%s.%d%s", w.base, w.index, w.ext)
	}
	return w.base + w.ext
}

// openFile starts a new file with its own system_info record so every
// rotated file can be read on its own.
func (w *Writer) openFile() error {
	f, err := os.OpenFile(w.fileName(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	w.file = f
	w.buf = bufio.NewWriterSize(f, writeBufferSize)
	w.written = 0
	if err := w.writeLineLocked(RecordSystemInfo, w.sysInfo); err != nil {
		return err
	}
	return w.syncLocked()
}

// WriteData writes one file record.
func (w *Writer) WriteData(data interface{}) {
	if err := w.WriteRecord(RecordFile, data); err != nil {
		logger.Warnf("Failed to write record: %v", err)
		return
	}
	w.filesProcessed.Add(1)
}

// WriteRecord writes payload wrapped in the record envelope and rotates the
// file once it reaches the configured size.
func (w *Writer) WriteRecord(recordType string, payload interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.writeLineLocked(recordType, payload); err != nil {
		return err
	}
	w.emitRecordLocked(recordType, payload)

	w.recordsSinceSync++
	if w.shouldSync() {
		if err := w.syncLocked(); err != nil {
			return err
		}
	}
	if w.cfg.MaxOutputFileSize > 0 && w.written >= w.cfg.MaxOutputFileSize {
		return w.rotateLocked()
	}
	return nil
}

func (w *Writer) writeLineLocked(recordType string, payload interface{}) error {
	line, err := jsonMarshal(record{
		RecordType:    recordType,
		SchemaVersion: SchemaVersion,
		ScanID:        w.scanID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("encode %s record: %w", recordType, err)
	}
	line = append(line, '\n')
	n, err := w.buf.Write(line)
	w.written += int64(n)
	return err
}

func (w *Writer) shouldSync() bool {
	if w.lastSyncAt.IsZero() || w.recordsSinceSync >= flushEveryRecords {
		return true
	}
	return time.Since(w.lastSyncAt) >= flushMaxInterval
}

func (w *Writer) syncLocked() error {
	w.recordsSinceSync = 0
	w.lastSyncAt = time.Now()
	return w.buf.Flush()
}

func (w *Writer) rotateLocked() error {
	if err := w.closeFileLocked(); err != nil {
		return err
	}
	w.index++
	return w.openFile()
}

func (w *Writer) closeFileLocked() error {
	if w.file == nil {
		return nil
	}
	flushErr := w.buf.Flush()
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	w.file = nil
	return errors.Join(flushErr, syncErr, closeErr)
}

// SetMetrics replaces the metrics record written at Close. The counters are
// taken from the writer.
func (w *Writer) SetMetrics(m Metrics) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.metrics = &m
	w.fillCountersLocked()
}

func (w *Writer) fillCountersLocked() {
	if w.metrics == nil {
		return
	}
	w.metrics.ScanID = w.scanID
	w.metrics.FilesScanned = w.filesScanned.Load()
	w.metrics.FilesProcessed = w.filesProcessed.Load()
	w.metrics.StreamsFound = w.streamsFound.Load()
	w.metrics.ReparsePoints = w.reparsePoints.Load()
}

func (w *Writer) IncrementScanned() {
	w.filesScanned.Add(1)
}

func (w *Writer) FilesScanned() int64 {
	return w.filesScanned.Load()
}

func (w *Writer) FilesProcessed() int64 {
	return w.filesProcessed.Load()
}

// AddStreams counts named streams reported in file records.
func (w *Writer) AddStreams(n int) {
	if n > 0 {
		w.streamsFound.Add(int64(n))
	}
}

// IncrementReparse counts reparse points reported in file records.
func (w *Writer) IncrementReparse() {
	w.reparsePoints.Add(1)
}

// Close writes the metrics record, closes the current file and flushes the
// OTLP exporter. Further calls are no-ops.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var errs []error
	if w.metrics != nil {
		if w.metrics.EndTime == "" {
			w.metrics.EndTime = time.Now().UTC().Format(time.RFC3339)
		}
		w.fillCountersLocked()
		if err := w.writeLineLocked(RecordMetrics, w.metrics); err != nil {
			errs = append(errs, err)
		}
		w.emitRecordLocked(RecordMetrics, w.metrics)
	}
	if err := w.closeFileLocked(); err != nil {
		errs = append(errs, err)
	}
	if w.otel != nil {
		w.otel.Shutdown()
	}
	return errors.Join(errs...)
}

func (w *Writer) emitRecordLocked(recordType string, payload interface{}) {
	if w.otel == nil {
		return
	}
	w.otel.Emit(recordType, payload)
}
