// Package telemetry provides a dependency-free structured JSON-lines logger.
package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

const (
	MaxFields     = 64
	MaxKeyLen     = 64
	MaxValLen     = 512
	MaxMessageLen = 1024
	MaxServiceLen = 64
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyTraceID   ctxKey = "trace_id"
)

// WithRequestID attaches a request id to ctx for log enrichment.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// WithTraceID attaches a trace id to ctx for log enrichment.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyTraceID, id)
}

// Field is a deterministic key/value field representation.
type Field struct {
	K string `json:"k"`
	V string `json:"v"`
}

// Event is a single log record (one JSON line).
type Event struct {
	Ts      string  `json:"ts"`
	Level   Level   `json:"level"`
	Service string  `json:"service,omitempty"`
	Msg     string  `json:"msg"`
	Fields  []Field `json:"fields,omitempty"`
}

// Options configures a Logger.
type Options struct {
	Service   string
	Level     Level
	Timestamp bool
}

// Logger is a structured JSON-lines logger, stdlib-only.
type Logger struct {
	w   io.Writer
	mu  sync.Mutex
	opt Options
}

// Nop discards everything; safe zero value for tests.
var Nop = &Logger{w: io.Discard, opt: Options{Timestamp: true, Level: LevelError}}

// New creates a Logger writing JSON lines to w. A nil w defaults to stdout.
func New(w io.Writer, opt Options) *Logger {
	if w == nil {
		w = os.Stdout
	}
	opt.Service = strings.TrimSpace(opt.Service)
	if len(opt.Service) > MaxServiceLen {
		opt.Service = opt.Service[:MaxServiceLen]
	}
	if opt.Level == "" {
		opt.Level = LevelInfo
	}
	return &Logger{w: w, opt: opt}
}

// NewDefault returns an info-level logger writing to w with timestamps enabled.
func NewDefault(w io.Writer, service string) *Logger {
	return New(w, Options{Service: service, Level: LevelInfo, Timestamp: true})
}

func (l *Logger) Debug(ctx context.Context, msg string, fields map[string]any) {
	l.log(ctx, LevelDebug, msg, fields)
}

func (l *Logger) Info(ctx context.Context, msg string, fields map[string]any) {
	l.log(ctx, LevelInfo, msg, fields)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields map[string]any) {
	l.log(ctx, LevelWarn, msg, fields)
}

func (l *Logger) Error(ctx context.Context, msg string, fields map[string]any) {
	l.log(ctx, LevelError, msg, fields)
}

func rank(l Level) int {
	switch l {
	case LevelDebug:
		return 1
	case LevelInfo:
		return 2
	case LevelWarn:
		return 3
	default:
		return 4
	}
}

func (l *Logger) enabled(level Level) bool {
	return rank(level) >= rank(l.opt.Level)
}

func (l *Logger) log(ctx context.Context, level Level, msg string, fields map[string]any) {
	if l == nil || !l.enabled(level) {
		return
	}
	ev := Event{
		Level:   level,
		Service: l.opt.Service,
		Msg:     sanitize(msg, MaxMessageLen),
	}
	if l.opt.Timestamp {
		ev.Ts = time.Now().UTC().Format(time.RFC3339Nano)
	}

	merged := make(map[string]string, 16)
	set := func(k, v string) {
		k = strings.TrimSpace(k)
		if k == "" || len(k) > MaxKeyLen {
			return
		}
		merged[k] = sanitize(v, MaxValLen)
	}

	if ctx != nil {
		if v, ok := ctx.Value(ctxKeyRequestID).(string); ok && v != "" {
			set("request_id", v)
		}
		if v, ok := ctx.Value(ctxKeyTraceID).(string); ok && v != "" {
			set("trace_id", v)
		}
	}
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			set(k, valueToString(fields[k]))
			if len(merged) >= MaxFields {
				set("log_truncated", "true")
				break
			}
		}
	}

	if len(merged) > 0 {
		keys := make([]string, 0, len(merged))
		for k := range merged {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ev.Fields = make([]Field, 0, len(keys))
		for _, k := range keys {
			ev.Fields = append(ev.Fields, Field{K: k, V: merged[k]})
		}
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.Write(line)
	_, _ = l.w.Write([]byte("\n"))
}

// sanitize trims, truncates, and strips control characters.
func sanitize(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) > max {
		s = s[:max]
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

func valueToString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case error:
		return x.Error()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
