package tiercache

// Fields is a minimal structured field map for logs.
type Fields map[string]any

// Logger is the leveled logger every package here logs through. Adapters for
// zap, logrus and slog live under log/. A nil Logger in Options disables logging.
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

// WithFields returns a Logger that adds base to every entry. Per-call fields
// win on key collisions. A nil l yields NopLogger.
func WithFields(l Logger, base Fields) Logger {
	if l == nil {
		return NopLogger{}
	}
	if _, ok := l.(NopLogger); ok || len(base) == 0 {
		return l
	}
	if s, ok := l.(scoped); ok {
		return scoped{inner: s.inner, base: merge(s.base, base)}
	}
	return scoped{inner: l, base: base}
}

type scoped struct {
	inner Logger
	base  Fields
}

func (s scoped) Debug(msg string, f Fields) { s.inner.Debug(msg, merge(s.base, f)) }
func (s scoped) Info(msg string, f Fields)  { s.inner.Info(msg, merge(s.base, f)) }
func (s scoped) Warn(msg string, f Fields)  { s.inner.Warn(msg, merge(s.base, f)) }
func (s scoped) Error(msg string, f Fields) { s.inner.Error(msg, merge(s.base, f)) }

func merge(base, f Fields) Fields {
	out := make(Fields, len(base)+len(f))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range f {
		out[k] = v
	}
	return out
}
