package execcache

import "log"

// Notifier is the caller-provided sink for cache diagnostics. None of its
// methods report fatal errors — those are always returned directly from the
// call that hit them.
type Notifier interface {
	// Warn reports a one-shot recoverable event, such as the cross-device
	// fallback into copying mode.
	Warn(msg string)

	// Error reports a caught, non-fatal error encountered during a hit or
	// record attempt, identified by operation id.
	Error(opID int64, msg string)

	// Debug reports an observability event, such as a cache hit, with a
	// short header describing it.
	Debug(opID int64, header string)
}

// NopNotifier discards every notification. Useful for callers that don't
// care about cache diagnostics.
type NopNotifier struct{}

func (NopNotifier) Warn(string)         {}
func (NopNotifier) Error(int64, string) {}
func (NopNotifier) Debug(int64, string) {}

// LogNotifier writes notifications to a [log.Logger].
type LogNotifier struct {
	Logger *log.Logger
}

// NewLogNotifier returns a [LogNotifier] writing to logger. Panics if logger
// is nil.
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		panic("logger is nil")
	}

	return &LogNotifier{Logger: logger}
}

func (n *LogNotifier) Warn(msg string) {
	n.Logger.Printf("warn: %s", msg)
}

func (n *LogNotifier) Error(opID int64, msg string) {
	n.Logger.Printf("error: op %d: %s", opID, msg)
}

func (n *LogNotifier) Debug(opID int64, header string) {
	n.Logger.Printf("debug: op %d: %s", opID, header)
}

var (
	_ Notifier = NopNotifier{}
	_ Notifier = (*LogNotifier)(nil)
)

// warnOnce wraps a [Notifier] so its Warn method fires at most once,
// matching the one-shot contract for the cross-device fallback warning.
type warnOnce struct {
	n     Notifier
	fired bool
}

func (w *warnOnce) warn(msg string) {
	if w.fired {
		return
	}

	w.fired = true
	w.n.Warn(msg)
}
