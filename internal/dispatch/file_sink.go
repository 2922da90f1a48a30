package dispatch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/fyrsmithlabs/logsieve/internal/record"
)

const fileBufferSize = 64 * 1024

// FileSink appends NDJSON records to a file, optionally zstd-compressed.
// Each open appends a new zstd frame, so the file stays readable by any
// zstd decoder after restarts.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
	bw   *bufio.Writer
	zw   *zstd.Encoder
	w    io.Writer
	enc  *record.Encoder
}

// OpenFileSink opens path for appending, creating it if needed.
func OpenFileSink(path string, compress bool) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening sink file: %w", err)
	}

	s := &FileSink{
		path: path,
		f:    f,
		bw:   bufio.NewWriterSize(f, fileBufferSize),
		enc:  record.NewEncoder(),
	}
	s.w = s.bw
	if compress {
		zw, err := zstd.NewWriter(s.bw)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		s.zw = zw
		s.w = zw
	}
	return s, nil
}

// Path returns the file path.
func (s *FileSink) Path() string {
	return s.path
}

// Write appends rec as one JSON line.
func (s *FileSink) Write(_ context.Context, rec record.Record) error {
	buf, err := s.enc.Encode(rec)
	if err != nil {
		return err
	}
	defer buf.Free()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return os.ErrClosed
	}
	_, err = s.w.Write(buf.Bytes())
	return err
}

// Flush pushes buffered data to disk.
func (s *FileSink) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	if s.zw != nil {
		if err := s.zw.Flush(); err != nil {
			return err
		}
	}
	if err := s.bw.Flush(); err != nil {
		return err
	}
	return s.f.Sync()
}

// Close finishes the zstd frame and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}

	var errs []error
	if s.zw != nil {
		errs = append(errs, s.zw.Close())
	}
	errs = append(errs, s.bw.Flush(), s.f.Close())
	s.f = nil
	return errors.Join(errs...)
}
