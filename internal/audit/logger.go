package audit

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Event is one audit record. Every security-relevant decision (token grant,
// policy verdict, federation login, role change) emits one.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Action    string    `json:"action"`
	User      string    `json:"user,omitempty"`
	Target    string    `json:"target,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Details   string    `json:"details,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

var auditLogger = zerolog.New(os.Stdout).With().Timestamp().Str("stream", "audit").Logger()

// Log records an audit event. Audit logging never fails the caller.
func Log(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	entry := auditLogger.Log().
		Time("event_time", ev.Timestamp).
		Str("service", ev.Service).
		Str("action", ev.Action).
		Bool("success", ev.Success)
	if ev.User != "" {
		entry = entry.Str("user", ev.User)
	}
	if ev.Target != "" {
		entry = entry.Str("target", ev.Target)
	}
	if ev.TenantID != "" {
		entry = entry.Str("tenant_id", ev.TenantID)
	}
	if ev.Details != "" {
		entry = entry.Str("details", ev.Details)
	}
	if ev.Error != "" {
		entry = entry.Str("error", ev.Error)
	}
	entry.Msg("audit")

	log.Debug().Str("action", ev.Action).Bool("success", ev.Success).Msg("audit event recorded")
}

// Failure is a convenience wrapper for failed actions.
func Failure(service, action, user, target string, err error) {
	ev := Event{Service: service, Action: action, User: user, Target: target, Success: false}
	if err != nil {
		ev.Error = err.Error()
	}
	Log(ev)
}

// Success is a convenience wrapper for successful actions.
func Success(service, action, user, target string) {
	Log(Event{Service: service, Action: action, User: user, Target: target, Success: true})
}
