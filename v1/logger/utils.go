package logger

import "go.uber.org/zap"

// Fields normalizes a variadic log context into a single map.
//
// Two shapes are accepted:
//   - a single map: Fields(map[string]any{"queue": "orders"})
//   - alternating key/value pairs: Fields("queue", "orders", "attempt", 2)
//
// Pairs whose key is not a string are skipped, as is a trailing key without a value.
// Returns nil for an empty context, including the common Info("msg", nil).
func Fields(context ...any) map[string]any {
	if len(context) == 0 {
		return nil
	}

	if len(context) == 1 {
		m, ok := context[0].(map[string]any)
		if !ok || len(m) == 0 {
			return nil
		}
		result := make(map[string]any, len(m))
		for k, v := range m {
			result[k] = v
		}
		return result
	}

	result := make(map[string]any, len(context)/2)
	for i := 0; i+1 < len(context); i += 2 {
		key, ok := context[i].(string)
		if !ok {
			continue
		}
		result[key] = context[i+1]
	}

	if len(result) == 0 {
		return nil
	}
	return result
}

// convertToZapFields converts a variadic log context into Zap's structured fields.
// Error values are encoded with zap.Any, which renders them under their key.
func (l *Logger) convertToZapFields(context ...any) []zap.Field {
	fields := Fields(context...)
	if len(fields) == 0 {
		return nil
	}
	zapFields := make([]zap.Field, 0, len(fields))
	for key, value := range fields {
		zapFields = append(zapFields, zap.Any(key, value))
	}
	return zapFields
}

// Info logs an informational message.
//
// Example:
//
//	logger.Info("Consumer started", "queue", "orders", "channelId", "default")
func (l *Logger) Info(msg string, context ...any) {
	l.Zap.Info(msg, l.convertToZapFields(context...)...)
}

// Debug logs a debug-level message.
func (l *Logger) Debug(msg string, context ...any) {
	l.Zap.Debug(msg, l.convertToZapFields(context...)...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, context ...any) {
	l.Zap.Warn(msg, l.convertToZapFields(context...)...)
}

// Error logs an error message.
//
// Example:
//
//	logger.Error("Failed to declare queue", map[string]any{
//	    "error": err.Error(),
//	    "queue": "orders",
//	})
func (l *Logger) Error(msg string, context ...any) {
	l.Zap.Error(msg, l.convertToZapFields(context...)...)
}

// Flush flushes any buffered log entries.
// Errors from syncing stderr/stdout on some platforms are expected and ignored by callers.
func (l *Logger) Flush() error {
	return l.Zap.Sync()
}
