package trace

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Recorder accepts decision records. Record must never block the caller.
type Recorder interface {
	Record(rec DecisionRecord)
}

// NopRecorder discards everything.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(DecisionRecord) {}

// MemoryRecorder keeps records in memory. Used by tests and the simulator.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []DecisionRecord
}

// Record implements Recorder.
func (m *MemoryRecorder) Record(rec DecisionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

// Records returns a copy of everything recorded so far.
func (m *MemoryRecorder) Records() []DecisionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DecisionRecord(nil), m.records...)
}

// MultiRecorder fans each record out to every member.
type MultiRecorder []Recorder

// Record implements Recorder.
func (m MultiRecorder) Record(rec DecisionRecord) {
	for _, r := range m {
		if r != nil {
			r.Record(rec)
		}
	}
}

// CSVRecorder appends records to a CSV sink from a background goroutine.
// Records arrive through a bounded buffer; when it is full the record is
// dropped and counted.
type CSVRecorder struct {
	ch     chan DecisionRecord
	w      *csv.Writer
	closer io.Closer
	done   chan struct{}

	mu     sync.RWMutex // guards closed against sends on a closed channel
	closed bool

	written atomic.Uint64
	dropped atomic.Uint64
}

// NewCSVRecorder writes the header and starts the writer goroutine.
// If w is also an io.Closer it is closed by Close.
func NewCSVRecorder(w io.Writer, buffer int, header bool) *CSVRecorder {
	r := &CSVRecorder{
		ch:   make(chan DecisionRecord, buffer),
		w:    csv.NewWriter(w),
		done: make(chan struct{}),
	}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	if header {
		if err := r.w.Write(Columns); err != nil {
			logrus.Errorf("trace: writing decision log header: %v", err)
		}
		r.w.Flush()
	}
	go r.loop()
	return r
}

// OpenCSVRecorder appends to the file at path, writing the header only when
// the file is new or empty.
func OpenCSVRecorder(path string, buffer int) (*CSVRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening decision log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat decision log: %w", err)
	}
	return NewCSVRecorder(f, buffer, info.Size() == 0), nil
}

// Record implements Recorder. Non-blocking.
func (r *CSVRecorder) Record(rec DecisionRecord) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.ch <- rec:
	default:
		r.dropped.Add(1)
	}
}

func (r *CSVRecorder) loop() {
	defer close(r.done)
	warned := false
	for rec := range r.ch {
		if err := r.w.Write(rec.Row()); err != nil {
			if !warned {
				logrus.Errorf("trace: writing decision log: %v", err)
				warned = true
			}
			continue
		}
		r.written.Add(1)
		if len(r.ch) == 0 {
			r.w.Flush()
		}
	}
	r.w.Flush()
}

// Close stops accepting records, drains the buffer and flushes the sink.
func (r *CSVRecorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()

	<-r.done
	err := r.w.Error()
	if r.closer != nil {
		err = errors.Join(err, r.closer.Close())
	}
	return err
}

// Written returns the number of records written.
func (r *CSVRecorder) Written() uint64 { return r.written.Load() }

// Dropped returns the number of records dropped because the buffer was full
// or the recorder was closed.
func (r *CSVRecorder) Dropped() uint64 { return r.dropped.Load() }

// ReadRecords parses a decision log written by CSVRecorder.
func ReadRecords(in io.Reader) ([]DecisionRecord, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = len(Columns)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading decision log: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	start := 0
	if rows[0][0] == Columns[0] {
		start = 1
	}
	records := make([]DecisionRecord, 0, len(rows)-start)
	for i, row := range rows[start:] {
		rec, err := ParseRow(row)
		if err != nil {
			return nil, fmt.Errorf("decision log row %d: %w", i+start+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
