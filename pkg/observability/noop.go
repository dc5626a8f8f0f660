package observability

// NoopLogger discards all log output. Used as the default when no logger is
// configured and in tests.
type NoopLogger struct{}

// NewNoopLogger creates a logger that discards everything.
func NewNoopLogger() Logger { return &NoopLogger{} }

func (l *NoopLogger) Debug(msg string, fields map[string]interface{}) {}
func (l *NoopLogger) Info(msg string, fields map[string]interface{})  {}
func (l *NoopLogger) Warn(msg string, fields map[string]interface{})  {}
func (l *NoopLogger) Error(msg string, fields map[string]interface{}) {}
func (l *NoopLogger) Fatal(msg string, fields map[string]interface{}) {}

// WithPrefix returns the same noop logger.
func (l *NoopLogger) WithPrefix(prefix string) Logger { return l }
