package domain

import "errors"

// EventKind is the machine-readable name of a broker outcome.
type EventKind string

const (
	EventCacheHit             EventKind = "cache_hit"
	EventFetchSuccess         EventKind = "fetch_success"
	EventFetchNotConfigured   EventKind = "fetch_not_configured"
	EventFetchTimeout         EventKind = "fetch_timeout"
	EventFetchServiceError    EventKind = "fetch_service_error"
	EventFetchInvalidPayload  EventKind = "fetch_invalid_payload"
	EventNoRelayEndpoints     EventKind = "no_relay_endpoints"
	EventRelayOnlyUnavailable EventKind = "relay_only_unavailable"
)

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one structured observability record.
type Event struct {
	Kind     EventKind
	Severity Severity
	FetchID  string
	Err      error
	Fields   map[string]any
}

// EventReporter receives every terminal outcome.
type EventReporter interface {
	Report(Event)
}

// NopReporter drops everything.
type NopReporter struct{}

func (NopReporter) Report(Event) {}

// FetchErrorEvent maps a fetch error to its event kind and severity.
// NotConfigured is informational: it is a permanent mode, not an incident.
func FetchErrorEvent(err error) (EventKind, Severity) {
	switch {
	case errors.Is(err, ErrNotConfigured):
		return EventFetchNotConfigured, SeverityInfo
	case errors.Is(err, ErrTimeout):
		return EventFetchTimeout, SeverityError
	case errors.Is(err, ErrInvalidPayload):
		return EventFetchInvalidPayload, SeverityError
	default:
		return EventFetchServiceError, SeverityError
	}
}
