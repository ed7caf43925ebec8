// Package zaplogger backs the glog contracts used across wearables with zap.
package zaplogger

import (
	"context"
	"sort"

	glog "github.com/goliatone/go-logger/glog"
	"go.uber.org/zap"
)

type contextKey struct{}

// ContextWithFields attaches request-scoped fields that WithContext picks up.
func ContextWithFields(ctx context.Context, fields map[string]any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	merged := map[string]any{}
	if existing, ok := ctx.Value(contextKey{}).(map[string]any); ok {
		for key, value := range existing {
			merged[key] = value
		}
	}
	for key, value := range fields {
		merged[key] = value
	}
	return context.WithValue(ctx, contextKey{}, merged)
}

type Logger struct {
	sugar *zap.SugaredLogger
}

func New(base *zap.Logger) *Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return &Logger{sugar: base.Sugar()}
}

// NewProduction builds a JSON logger at the given level ("debug", "info", ...).
func NewProduction(level string) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		parsed, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = parsed
	}
	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return New(base), nil
}

func (l *Logger) Trace(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

// Fatal logs at error level with fatal=true; it never exits the process.
func (l *Logger) Fatal(msg string, args ...any) {
	l.sugar.Errorw(msg, append(args, "fatal", true)...)
}

func (l *Logger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		return l
	}
	fields, ok := ctx.Value(contextKey{}).(map[string]any)
	if !ok || len(fields) == 0 {
		return l
	}
	return l.WithFields(fields)
}

func (l *Logger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return l
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return &Logger{sugar: l.sugar.With(args...)}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// Provider hands out named children of one zap logger.
type Provider struct {
	root *Logger
}

func NewProvider(base *zap.Logger) *Provider {
	return &Provider{root: New(base)}
}

// Provider hands out named children of l.
func (l *Logger) Provider() *Provider {
	return &Provider{root: l}
}

func (p *Provider) GetLogger(name string) glog.Logger {
	if p == nil || p.root == nil {
		return glog.Nop()
	}
	if name == "" {
		return p.root
	}
	return &Logger{sugar: p.root.sugar.Named(name)}
}

var (
	_ glog.Logger         = (*Logger)(nil)
	_ glog.FieldsLogger   = (*Logger)(nil)
	_ glog.LoggerProvider = (*Provider)(nil)
)
