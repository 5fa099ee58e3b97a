package sink

import (
	"context"
	"slices"
	"sync"
)

// MemorySink collects everything in memory. EmitErr, when set, is consulted
// before each record is stored and its error returned instead.
type MemorySink struct {
	mu       sync.Mutex
	records  []Record
	failures []Failure

	EmitErr func(Record) error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Emit(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.EmitErr != nil {
		if err := m.EmitErr(rec); err != nil {
			return err
		}
	}

	m.records = append(m.records, rec)

	return nil
}

func (m *MemorySink) Fail(_ context.Context, f Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures = append(m.failures, f)

	return nil
}

func (m *MemorySink) Close() error { return nil }

// Records returns a copy of the emitted records.
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.records)
}

// RecordsOf returns the emitted records of one kind.
func (m *MemorySink) RecordsOf(kind Kind) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record

	for _, r := range m.records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}

	return out
}

// Failures returns a copy of the reported failures.
func (m *MemorySink) Failures() []Failure {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.failures)
}

// Reset drops everything collected so far.
func (m *MemorySink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = nil
	m.failures = nil
}
