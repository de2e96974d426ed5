package groupgraph

import "log"

// Logger is the minimal logging surface Tree needs to report
// CapacityWarning conditions such as a duplicate group name. A
// *log.Logger satisfies this interface; so does any adapter around a
// structured logger. Mirrors scheduler.Logger, which plays the same
// role for named threads.
type Logger interface {
	Warnf(format string, args ...any)
}

type stdLogger struct{ l *log.Logger }

func (s stdLogger) Warnf(format string, args ...any) {
	s.l.Printf(format, args...)
}
