package logger

type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

type NoopLogger struct{}

func (NoopLogger) Debug(string, map[string]any) {}
func (NoopLogger) Info(string, map[string]any)  {}
func (NoopLogger) Warn(string, map[string]any)  {}
func (NoopLogger) Error(string, map[string]any) {}

// With returns a Logger that adds fields to every entry. Per-call fields
// win over the static ones.
func With(l Logger, fields map[string]any) Logger {
	if l == nil {
		l = NoopLogger{}
	}
	if len(fields) == 0 {
		return l
	}
	if w, ok := l.(*scoped); ok {
		return &scoped{next: w.next, fields: merge(w.fields, fields)}
	}
	return &scoped{next: l, fields: merge(nil, fields)}
}

type scoped struct {
	next   Logger
	fields map[string]any
}

func (s *scoped) Debug(msg string, f map[string]any) { s.next.Debug(msg, merge(s.fields, f)) }
func (s *scoped) Info(msg string, f map[string]any)  { s.next.Info(msg, merge(s.fields, f)) }
func (s *scoped) Warn(msg string, f map[string]any)  { s.next.Warn(msg, merge(s.fields, f)) }
func (s *scoped) Error(msg string, f map[string]any) { s.next.Error(msg, merge(s.fields, f)) }

func merge(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
