package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slackdigest/internal/domain"
)

func scrape(t *testing.T, m *DigestMetrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestDigestMetricsExposition(t *testing.T) {
	m := New()

	m.StartRun()
	m.FinishRun(2*time.Second, nil)
	m.StartRun()
	m.FinishRun(time.Second, errors.New("fetch failed"))
	m.ObserveMessages([]domain.ClassifiedMessage{
		{Classification: domain.Classification{Workflow: domain.WorkflowTrustView, Severity: domain.SeverityHigh}},
		{Classification: domain.Classification{Workflow: domain.WorkflowTrustView, Severity: domain.SeverityHigh}},
	})
	m.ObserveNameLookup("hit")

	out := scrape(t, m)
	assert.Contains(t, out, `slackdigest_digest_runs_total{status="success"} 1`)
	assert.Contains(t, out, `slackdigest_digest_runs_total{status="error"} 1`)
	assert.Contains(t, out, `slackdigest_digest_runs_in_flight 0`)
	assert.Contains(t, out, `slackdigest_digest_messages_total{severity="High",workflow="Trust View"} 2`)
	assert.Contains(t, out, `slackdigest_digest_name_lookups_total{result="hit"} 1`)
	assert.Contains(t, out, `slackdigest_digest_run_duration_seconds_count{status="success"} 1`)
}
