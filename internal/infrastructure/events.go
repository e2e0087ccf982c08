package infrastructure

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"

	"ice-broker/internal/domain"
)

// Metrics holds the broker's Prometheus registry and meters.
type Metrics struct {
	Registry      *prometheus.Registry
	EventsTotal   *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ice_broker_events_total",
		Help: "Broker outcomes by event kind and severity.",
	}, []string{"kind", "severity"})

	fetchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ice_broker_fetch_duration_seconds",
		Help:    "Duration of relay credential fetches in seconds.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2, 3, 4, 5, 6},
	}, []string{"kind"})

	reg.MustRegister(events, fetchDuration)

	return &Metrics{
		Registry:      reg,
		EventsTotal:   events,
		FetchDuration: fetchDuration,
	}
}

// EventLog writes every broker event to glog and counts it.
type EventLog struct {
	metrics *Metrics
}

var _ domain.EventReporter = (*EventLog)(nil)

func NewEventLog(m *Metrics) *EventLog {
	return &EventLog{metrics: m}
}

func (l *EventLog) Report(e domain.Event) {
	line := FormatEvent(e)
	switch e.Severity {
	case domain.SeverityError:
		glog.ErrorDepth(1, line)
	case domain.SeverityWarning:
		glog.WarningDepth(1, line)
	default:
		glog.InfoDepth(1, line)
	}

	if l.metrics == nil {
		return
	}
	l.metrics.EventsTotal.WithLabelValues(string(e.Kind), e.Severity.String()).Inc()
	if d, ok := e.Fields["duration"].(time.Duration); ok {
		l.metrics.FetchDuration.WithLabelValues(string(e.Kind)).Observe(d.Seconds())
	}
}

// FormatEvent renders an event as space separated key=value pairs with the
// event kind first and remaining fields in sorted order.
func FormatEvent(e domain.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "event=%s severity=%s", e.Kind, e.Severity)
	if e.FetchID != "" {
		fmt.Fprintf(&b, " fetch_id=%s", e.FetchID)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
	}
	if e.Err != nil {
		fmt.Fprintf(&b, " err=%q", e.Err.Error())
	}
	return b.String()
}
