// Package notify carries operation outcomes to people: a fire-and-forget
// per-user message sink and an SMTP mailer for the prolong notifications.
package notify

import "log/slog"

// Severity classifies a user-facing message.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Sink receives user-facing messages. Push is fire-and-forget: the core never
// reads the channel back and delivery failures must not propagate into task
// logic.
type Sink interface {
	Push(userID string, severity Severity, text string)
}

// LogSink is the default Sink; it writes messages to the structured log.
// Deployments wanting real in-app messages plug their own Sink in.
type LogSink struct{}

// Push logs the message at a level matching its severity.
func (LogSink) Push(userID string, severity Severity, text string) {
	switch severity {
	case SeverityError:
		slog.Error("user message", "user", userID, "message", text)
	default:
		slog.Info("user message", "user", userID, "severity", string(severity), "message", text)
	}
}
