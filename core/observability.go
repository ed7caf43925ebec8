package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Observer records one log line plus counter and duration metrics per operation.
// Adapters and the service share it so every surface reports the same way.
type Observer struct {
	Logger  Logger
	Metrics MetricsRecorder
	Prefix  string
}

func NewObserver(logger Logger, metrics MetricsRecorder, prefix string) Observer {
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = "wearables"
	}
	return Observer{Logger: logger, Metrics: metrics, Prefix: prefix}
}

func (o Observer) Observe(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}

	contextFields := cloneFields(fields)
	contextFields["event_type"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = time.Since(startedAt).Milliseconds()
	if err != nil {
		contextFields["error"] = err.Error()
		if richErr := MapError(err); richErr != nil {
			contextFields["error_code"] = richErr.TextCode
		}
	}

	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	for _, key := range []string{"provider", "tenant_id", "error_code"} {
		if value := strings.TrimSpace(fmt.Sprint(contextFields[key])); value != "" && value != "<nil>" {
			tags[key] = value
		}
	}

	o.recordCounter(ctx, o.metricName(operation, "total"), 1, tags)
	o.recordHistogram(ctx, o.metricName(operation, "duration_ms"), float64(time.Since(startedAt).Milliseconds()), tags)

	if err != nil {
		o.Log(ctx, "error", operation+" failed", contextFields)
		return
	}
	o.Log(ctx, "info", operation+" succeeded", contextFields)
}

func (o Observer) Warn(ctx context.Context, message string, fields map[string]any) {
	o.Log(ctx, "warn", message, fields)
}

func (o Observer) Debug(ctx context.Context, message string, fields map[string]any) {
	o.Log(ctx, "debug", message, fields)
}

func (o Observer) Log(ctx context.Context, level string, message string, fields map[string]any) {
	if o.Logger == nil {
		return
	}
	logger := o.Logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	case "debug":
		logger.Debug(message, args...)
	default:
		logger.Info(message, args...)
	}
}

// Count increments a counter under the observer prefix.
func (o Observer) Count(ctx context.Context, name string, tags map[string]string) {
	o.recordCounter(ctx, o.Prefix+"."+strings.TrimSpace(name), 1, tags)
}

func (o Observer) metricName(operation string, suffix string) string {
	return o.Prefix + "." + operation + "." + suffix
}

func (o Observer) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if o.Metrics == nil {
		return
	}
	o.Metrics.IncCounter(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func (o Observer) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if o.Metrics == nil {
		return
	}
	o.Metrics.ObserveHistogram(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
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
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}
