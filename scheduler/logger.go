package scheduler

import "log"

// Logger is the minimal logging surface the manager needs to report
// CapacityWarning and TransientRuntimeWarning conditions: duplicate
// name registration, a dependency added on an already-completed task,
// and similar non-fatal situations that are still worth a line in the
// log. A *log.Logger satisfies this interface; so does any adapter
// around a structured logger.
type Logger interface {
	Warnf(format string, args ...any)
}

type stdLogger struct{ l *log.Logger }

func (s stdLogger) Warnf(format string, args ...any) {
	s.l.Printf(format, args...)
}

// Warnf implements task.Manager, forwarding to the configured Logger.
func (m *Manager) Warnf(format string, args ...any) {
	m.logger.Warnf(format, args...)
}
