package offcache

// Fields is a minimal structured field map for logs.
type Fields map[string]any

// Logger is the leveled logger offcache writes to. Adapters for zap, logrus
// and slog live under log/. A nil Logger in Options disables logging.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

type NopLogger struct{}

func (NopLogger) Debug(string, Fields) {}
func (NopLogger) Info(string, Fields)  {}
func (NopLogger) Warn(string, Fields)  {}
func (NopLogger) Error(string, Fields) {}

// boundLogger stamps base onto every entry. Call-site fields win on conflict.
type boundLogger struct {
	l    Logger
	base Fields
}

func withFields(l Logger, base Fields) Logger {
	if _, nop := l.(NopLogger); nop || len(base) == 0 {
		return l
	}
	return boundLogger{l: l, base: base}
}

func (b boundLogger) merge(f Fields) Fields {
	out := make(Fields, len(b.base)+len(f))
	for k, v := range b.base {
		out[k] = v
	}
	for k, v := range f {
		out[k] = v
	}
	return out
}

func (b boundLogger) Debug(msg string, f Fields) { b.l.Debug(msg, b.merge(f)) }
func (b boundLogger) Info(msg string, f Fields)  { b.l.Info(msg, b.merge(f)) }
func (b boundLogger) Warn(msg string, f Fields)  { b.l.Warn(msg, b.merge(f)) }
func (b boundLogger) Error(msg string, f Fields) { b.l.Error(msg, b.merge(f)) }
