// Package blackbox keeps a local, append-only copy of every log record.
//
// The copy survives a lost ledger: one JSON object per line in
// <dir>/survivor_YYYYMMDD.log, a new file each UTC day.
package blackbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/sovereign/internal/clock"
)

// FilePrefix starts every black box file name.
const FilePrefix = "survivor_"

// FileName returns the file that holds records written at t.
func FileName(t time.Time) string {
	return FilePrefix + t.UTC().Format("20060102") + ".log"
}

// Handler tees records to a wrapped handler and to the daily file.
type Handler struct {
	next slog.Handler
	json slog.Handler
	file *dailyFile
}

// Option configures a Handler.
type Option func(*dailyFile)

// WithClock picks the day from c instead of the system clock.
func WithClock(c clock.Clock) Option {
	return func(f *dailyFile) { f.clock = clock.OrReal(c) }
}

// New wraps next. dir is created if needed. The file copy records every
// level from Debug up regardless of what next accepts.
func New(next slog.Handler, dir string, opts ...Option) (*Handler, error) {
	if next == nil {
		return nil, errors.New("blackbox: next handler is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("blackbox: create %s: %w", dir, err)
	}
	f := &dailyFile{dir: dir, clock: clock.Real}
	for _, opt := range opts {
		opt(f)
	}
	return &Handler{
		next: next,
		json: slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}),
		file: f,
	}, nil
}

func (h *Handler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.json.Enabled(ctx, l) || h.next.Enabled(ctx, l)
}

// Handle writes r to the file first so a failing console still leaves a
// trace on disk.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	if err := h.json.Handle(ctx, r.Clone()); err != nil {
		errs = append(errs, fmt.Errorf("blackbox: %w", err))
	}
	if h.next.Enabled(ctx, r.Level) {
		if err := h.next.Handle(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{next: h.next.WithAttrs(attrs), json: h.json.WithAttrs(attrs), file: h.file}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{next: h.next.WithGroup(name), json: h.json.WithGroup(name), file: h.file}
}

// Path returns the file currently written, or "" before the first record.
func (h *Handler) Path() string {
	h.file.mu.Lock()
	defer h.file.mu.Unlock()
	if h.file.f == nil {
		return ""
	}
	return h.file.f.Name()
}

// Close closes the open file. Handlers derived with WithAttrs or WithGroup
// share it.
func (h *Handler) Close() error {
	return h.file.Close()
}

// dailyFile is an io.Writer that appends to the file for the current day.
type dailyFile struct {
	dir   string
	clock clock.Clock

	mu  sync.Mutex
	day string
	f   *os.File
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := FileName(d.clock.Now())
	if d.f == nil || name != d.day {
		if d.f != nil {
			d.f.Close()
			d.f = nil
		}
		f, err := os.OpenFile(filepath.Join(d.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return 0, err
		}
		d.f, d.day = f, name
	}
	return d.f.Write(p)
}

func (d *dailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}
