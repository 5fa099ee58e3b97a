package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// JSONLSink writes one JSON object per line: records to one writer,
// failures to another.
type JSONLSink struct {
	mu       sync.Mutex
	records  *json.Encoder
	failures *json.Encoder
	closers  []io.Closer
}

// NewJSONLSink writes to the given writers. Any writer that is also an
// io.Closer is closed by Close.
func NewJSONLSink(records, failures io.Writer) *JSONLSink {
	s := &JSONLSink{
		records:  json.NewEncoder(records),
		failures: json.NewEncoder(failures),
	}

	for _, w := range []io.Writer{records, failures} {
		if c, ok := w.(io.Closer); ok {
			s.closers = append(s.closers, c)
		}
	}

	return s
}

func (s *JSONLSink) Emit(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.records.Encode(rec); err != nil {
		return fmt.Errorf("sink: writing %s %s: %w", rec.Kind, rec.ID, err)
	}

	return nil
}

func (s *JSONLSink) Fail(_ context.Context, f Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures.Encode(f); err != nil {
		return fmt.Errorf("sink: writing failure for %s: %w", f.ScopeKey, err)
	}

	return nil
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error

	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}

	s.closers = nil

	return errors.Join(errs...)
}
