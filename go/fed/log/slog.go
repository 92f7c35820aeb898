/*
Copyright 2026 The Fedplan Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"
)

var (
	logFormat string
	logLevel  string

	// structured is set once --log-fmt routes records to slog instead of glog.
	structured atomic.Bool

	output io.Writer = os.Stderr
)

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

var formats = map[string]func(w io.Writer, opts *slog.HandlerOptions) slog.Handler{
	"json": func(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
		return slog.NewJSONHandler(w, opts)
	},
	"logfmt": func(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
		return slog.NewTextHandler(w, opts)
	},
	// color degrades to plain text when w is not a terminal.
	"color": func(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
		return tint.NewHandler(w, &tint.Options{
			AddSource:  opts.AddSource,
			Level:      opts.Level,
			TimeFormat: time.StampMilli,
			NoColor:    !isTerminal(w),
		})
	},
}

// Init switches to structured logging when --log-fmt was given.
func Init(fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}
	if f := fs.Lookup("log-fmt"); f == nil || !f.Changed {
		return nil
	}

	level, err := slogLevel(logLevel)
	if err != nil {
		return err
	}
	handler, err := slogHandler(logFormat, &slog.HandlerOptions{AddSource: true, Level: level})
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(handler))
	structured.Store(true)
	return nil
}

func slogLevel(name string) (slog.Level, error) {
	if level, ok := levels[normalize(name)]; ok {
		return level, nil
	}
	return 0, fmt.Errorf("invalid log-level %q: expected one of %s", name, choices(levels))
}

func slogHandler(name string, opts *slog.HandlerOptions) (slog.Handler, error) {
	if build, ok := formats[normalize(name)]; ok {
		return build(output, opts), nil
	}
	return nil, fmt.Errorf("invalid log-fmt %q: expected one of %s", name, choices(formats))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func choices[V any](m map[string]V) string {
	return strings.Join(slices.Sorted(maps.Keys(m)), ", ")
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// Enabled reports whether a record at level would be written. Without
// structured logging, debug records need glog verbosity 1.
func Enabled(level slog.Level) bool {
	if structured.Load() {
		return slog.Default().Enabled(context.Background(), level)
	}
	return level >= slog.LevelInfo || bool(glog.V(1))
}

// Logger adds a fixed set of attributes, typically the planning session,
// to every record.
type Logger struct {
	attrs []any
}

// With returns a Logger that adds the given key/value pairs to its records.
func With(args ...any) Logger {
	return Logger{attrs: args}
}

// DebugS logs at the Debug level.
func (l Logger) DebugS(msg string, args ...any) { emit(slog.LevelDebug, msg, l.attrs, args) }

// InfoS logs at the Info level.
func (l Logger) InfoS(msg string, args ...any) { emit(slog.LevelInfo, msg, l.attrs, args) }

// WarnS logs at the Warn level.
func (l Logger) WarnS(msg string, args ...any) { emit(slog.LevelWarn, msg, l.attrs, args) }

// ErrorS logs at the Error level.
func (l Logger) ErrorS(msg string, args ...any) { emit(slog.LevelError, msg, l.attrs, args) }

// DebugS, InfoS, WarnS and ErrorS log a record without fixed attributes.
func DebugS(msg string, args ...any) { emit(slog.LevelDebug, msg, nil, args) }
func InfoS(msg string, args ...any) { emit(slog.LevelInfo, msg, nil, args) }
func WarnS(msg string, args ...any) { emit(slog.LevelWarn, msg, nil, args) }
func ErrorS(msg string, args ...any) { emit(slog.LevelError, msg, nil, args) }

// callerSkip skips runtime.Callers, emit and the exported wrapper.
const callerSkip = 3

func emit(level slog.Level, msg string, attrs, args []any) {
	if !Enabled(level) {
		return
	}
	if !structured.Load() {
		toGlog(level, msg, attrs, args)
		return
	}

	var pcs [1]uintptr
	runtime.Callers(callerSkip, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(attrs...)
	r.Add(args...)
	_ = slog.Default().Handler().Handle(context.Background(), r)
}

// toGlog renders the record as "msg key=value ..." on the glog severity
// matching level.
func toGlog(level slog.Level, msg string, attrs, args []any) {
	var sb strings.Builder
	sb.WriteString(msg)
	r := slog.NewRecord(time.Time{}, level, msg, 0)
	r.Add(attrs...)
	r.Add(args...)
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&sb, " %s=%v", a.Key, a.Value)
		return true
	})

	// glog frames: toGlog, emit, the exported wrapper.
	const depth = 3
	switch {
	case level >= slog.LevelError:
		glog.ErrorDepth(depth, sb.String())
	case level >= slog.LevelWarn:
		glog.WarningDepth(depth, sb.String())
	default:
		glog.InfoDepth(depth, sb.String())
	}
}

// SetLogger routes structured records to logger until the returned function
// is called. Used by tests.
func SetLogger(logger *slog.Logger) func() {
	if logger == nil {
		return func() {}
	}
	prevStructured, prevDefault := structured.Load(), slog.Default()
	slog.SetDefault(logger)
	structured.Store(true)
	return func() {
		slog.SetDefault(prevDefault)
		structured.Store(prevStructured)
	}
}
