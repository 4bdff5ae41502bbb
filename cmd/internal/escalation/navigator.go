package escalation

import (
	"context"
	"log/slog"
	"sync"
)

// LogNavigator has no real views; it records the current one and writes
// redirects to the log. The CLI uses it.
type LogNavigator struct {
	log *slog.Logger

	mu      sync.Mutex
	current string
}

func NewLogNavigator(log *slog.Logger, current string) *LogNavigator {
	if log == nil {
		log = slog.Default()
	}
	return &LogNavigator{log: log, current: current}
}

func (n *LogNavigator) CurrentView() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

func (n *LogNavigator) SetView(view string) {
	n.mu.Lock()
	n.current = view
	n.mu.Unlock()
}

func (n *LogNavigator) Navigate(_ context.Context, target string) error {
	n.mu.Lock()
	n.current = target
	n.mu.Unlock()
	n.log.Warn("navigate", "target", target)
	return nil
}

// RecordingNavigator keeps every navigation for inspection.
type RecordingNavigator struct {
	mu      sync.Mutex
	current string
	history []string
}

func NewRecordingNavigator(current string) *RecordingNavigator {
	return &RecordingNavigator{current: current}
}

func (n *RecordingNavigator) CurrentView() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

func (n *RecordingNavigator) SetView(view string) {
	n.mu.Lock()
	n.current = view
	n.mu.Unlock()
}

func (n *RecordingNavigator) Navigate(_ context.Context, target string) error {
	n.mu.Lock()
	n.current = target
	n.history = append(n.history, target)
	n.mu.Unlock()
	return nil
}

// History returns a copy of every navigation target, oldest first.
func (n *RecordingNavigator) History() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.history...)
}

// SlogNotifier writes the user-facing message as a warning.
type SlogNotifier struct {
	Log *slog.Logger
}

func (n SlogNotifier) Notify(_ context.Context, message string, cause error) {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}
	log.Warn("escalation.notify", "message", message, "cause", cause)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, message string, cause error)

func (f NotifierFunc) Notify(ctx context.Context, message string, cause error) {
	f(ctx, message, cause)
}
