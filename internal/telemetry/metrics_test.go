package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registration sanity checks — verify every exported metric is registered and
// carries the expected fully-qualified name. Checked via Describe() rather
// than DefaultGatherer.Gather() because Gather() only returns series that have
// been observed at least once; *Vec metrics with no label combinations yet
// used are absent from Gather output even though correctly registered.
func TestMetrics_AllRegistered(t *testing.T) {
	type describer interface {
		Describe(chan<- *prometheus.Desc)
	}

	cases := []struct {
		name string
		c    describer
	}{
		{"http_requests_total", HTTPRequestsTotal},
		{"http_request_duration_seconds", HTTPRequestDuration},
		{"authentications_total", AuthenticationsTotal},
		{"login_attempts_total", LoginAttemptsTotal},
		{"csrf_rejections_total", CSRFRejectionsTotal},
		{"audit_entries_total", AuditEntriesTotal},
		{"audit_spool_depth", AuditSpoolDepth},
		{"db_open_connections", DBOpenConnections},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 8)
			tc.c.Describe(ch)
			close(ch)

			found := false
			for desc := range ch {
				if desc != nil {
					found = true
				}
			}
			if !found {
				t.Errorf("metric %s produced no descriptors", tc.name)
			}
		})
	}
}

func TestAuditEntriesTotal_Increments(t *testing.T) {
	before := counterValue(t, "audit_entries_total", map[string]string{"outcome": "written"})
	AuditEntriesTotal.WithLabelValues("written").Inc()
	after := counterValue(t, "audit_entries_total", map[string]string{"outcome": "written"})

	if after != before+1 {
		t.Errorf("audit_entries_total{outcome=written} = %v, want %v", after, before+1)
	}
}

func TestAuthenticationsTotal_Increments(t *testing.T) {
	before := counterValue(t, "authentications_total", map[string]string{"outcome": "expired"})
	AuthenticationsTotal.WithLabelValues("expired").Inc()
	after := counterValue(t, "authentications_total", map[string]string{"outcome": "expired"})

	if after != before+1 {
		t.Errorf("authentications_total{outcome=expired} = %v, want %v", after, before+1)
	}
}

// counterValue gathers the default registry and returns the value of the
// counter series matching name and labels; 0 if the series does not exist yet.
func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("DefaultGatherer.Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, labels map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range labels {
		if got[k] != v {
			return false
		}
	}
	return true
}
