// Package journal keeps an append-only record of engine decisions in hourly
// zstd files. Every entry is written as its own zstd frame, so a file stays
// readable up to the last completed write even if the process dies.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const hourLayout = "2006-01-02-15"

// Writer appends one JSON line per call to the file of the hour the value
// belongs to. It is safe for concurrent use.
type Writer struct {
	dir    string
	prefix string
	enc    *zstd.Encoder

	mu   sync.Mutex
	hour string
	f    *os.File
}

func NewWriter(dir, prefix string) (*Writer, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("journal encoder: %w", err)
	}
	return &Writer{dir: dir, prefix: prefix, enc: enc}, nil
}

// Path is the file holding entries stamped at.
func (w *Writer) Path(at time.Time) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, at.UTC().Format(hourLayout)))
}

// Append writes v as one line to the file of at's hour. The frame is on disk
// when Append returns.
func (w *Writer) Append(at time.Time, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	frame := w.enc.EncodeAll(line, nil)
	f, err := w.fileFor(at)
	if err != nil {
		return err
	}
	if _, err := f.Write(frame); err != nil {
		return fmt.Errorf("journal append: %w", err)
	}
	return nil
}

func (w *Writer) fileFor(at time.Time) (*os.File, error) {
	hour := at.UTC().Format(hourLayout)
	if w.f != nil && w.hour == hour {
		return w.f, nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(w.Path(at), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	w.f, w.hour = f, hour
	return f, nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var err error
	if w.f != nil {
		err = w.f.Close()
		w.f = nil
	}
	if w.enc != nil {
		_ = w.enc.Close()
		w.enc = nil
	}
	return err
}
