package logger

// Logger exposes logging methods for common severity levels.
type Logger interface {
	Debugf(format string, args ...any)
	// Debugw logs a message with structured fields.
	Debugw(msg string, fields map[string]any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Nop implements Logger with no-op methods.
type Nop struct{}

func (Nop) Debugf(string, ...any)         {}
func (Nop) Debugw(string, map[string]any) {}
func (Nop) Infof(string, ...any)          {}
func (Nop) Warnf(string, ...any)          {}
func (Nop) Errorf(string, ...any)         {}

// OrNop returns l, or a Nop logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop{}
	}
	return l
}

// MaxPayloadSummary bounds the raw payload excerpt attached to ingestion logs.
const MaxPayloadSummary = 128

// PayloadSummary returns a printable excerpt of a raw message payload.
func PayloadSummary(p []byte) string {
	if len(p) <= MaxPayloadSummary {
		return string(p)
	}
	return string(p[:MaxPayloadSummary]) + "...(truncated)"
}
