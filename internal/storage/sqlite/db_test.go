package sqlite

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slackdigest/internal/domain"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "slackdigest-test.db")
	db, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func classified(ts, user string, wf domain.Workflow, sev domain.Severity, confidence float64, question bool) domain.ClassifiedMessage {
	return domain.ClassifiedMessage{
		Message: domain.RawMessage{TS: ts, UserID: user},
		Fields:  domain.Fields{},
		Classification: domain.Classification{
			Severity:             sev,
			Workflow:             wf,
			IsQuestion:           question,
			JiraTickets:          []string{"OPS-1", "PROJ-2"},
			ResolutionConfidence: confidence,
		},
	}
}

func TestInsertAndReadDigestRuns(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2026, 1, 12, 12, 0, 0, 0, time.UTC)
	rng := domain.DateRange{Start: base.AddDate(0, 0, -7), End: base}

	msgs := []domain.ClassifiedMessage{
		classified("1.000100", "U1", domain.WorkflowNucleus, domain.SeverityHigh, 1.0, false),
		classified("2.000100", "U2", domain.WorkflowNucleus, domain.SeverityMedium, 0.6, true),
		classified("3.000100", "U3", domain.WorkflowTrustView, domain.SeverityLow, 0.5, false),
	}
	firstID, err := InsertDigestRun(db, domain.DigestRun{
		ChannelID: "C1", ChannelName: "ops", Range: rng, Total: 3, Content: "first", CreatedAt: base,
	}, msgs)
	require.NoError(t, err)
	require.NotEmpty(t, firstID)

	secondID, err := InsertDigestRun(db, domain.DigestRun{
		ID: "fixed-id", ChannelID: "C1", ChannelName: "ops", Range: rng, Total: 0, Content: "second", CreatedAt: base.Add(time.Hour),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", secondID)

	latest, err := GetLatestDigestRun(db, "C1")
	require.NoError(t, err)
	assert.Equal(t, "second", latest.Content)
	assert.True(t, latest.Range.Start.Equal(rng.Start))
	assert.True(t, latest.CreatedAt.Equal(base.Add(time.Hour)))

	_, err = GetLatestDigestRun(db, "C404")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	runs, err := ListDigestRuns(db, base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "fixed-id", runs[0].ID)

	all, err := ListDigestRuns(db, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, firstID, all[0].ID)

	var tickets string
	require.NoError(t, db.QueryRow(`SELECT ticket_ids FROM message_classifications WHERE message_ts = '1.000100'`).Scan(&tickets))
	assert.Equal(t, "OPS-1,PROJ-2", tickets)
}

func TestGetClassificationStats(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2026, 1, 12, 12, 0, 0, 0, time.UTC)
	msgs := []domain.ClassifiedMessage{
		classified("1.1", "U1", domain.WorkflowNucleus, domain.SeverityHigh, 0.8, false),
		classified("1.2", "U2", domain.WorkflowNucleus, domain.SeverityMedium, 0.6, true),
		classified("1.3", "U3", domain.WorkflowTrustView, domain.SeverityLow, 0.5, true),
		classified("1.4", "U4", domain.WorkflowOther, domain.SeverityLow, 0.7, false),
	}
	_, err := InsertDigestRun(db, domain.DigestRun{ChannelID: "C1", Total: 4, Content: "x", CreatedAt: base}, msgs)
	require.NoError(t, err)

	s, err := GetClassificationStats(db, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Runs)
	assert.Equal(t, 4, s.TotalClassifications)
	assert.InDelta(t, 0.65, s.AvgConfidence, 1e-9)
	assert.Equal(t, 1, s.Resolved)
	assert.Equal(t, 2, s.Likely)
	assert.Equal(t, 1, s.NeedsAttention)
	assert.Equal(t, 2, s.Questions)
	assert.Equal(t, []domain.Count{
		{Key: "Nucleus", N: 2},
		{Key: "Other", N: 1},
		{Key: "Trust View", N: 1},
	}, s.Workflows)

	later, err := GetClassificationStats(db, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, later.TotalClassifications)
	assert.Equal(t, 0, later.Runs)
	assert.Empty(t, later.Workflows)
}

func TestInsertDigestRunRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO digest_runs").WillReturnResult(sqlmock.NewResult(1, 1))
	prep := mock.ExpectPrepare("INSERT INTO message_classifications")
	prep.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = InsertDigestRun(db, domain.DigestRun{ChannelID: "C1", Content: "x"}, []domain.ClassifiedMessage{
		classified("1.1", "U1", domain.WorkflowNucleus, domain.SeverityHigh, 0.8, false),
	})
	assert.EqualError(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDigestRunBeginFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	_, err = Store{DB: db}.SaveDigestRun(domain.DigestRun{ChannelID: "C1"}, nil)
	assert.EqualError(t, err, "database is locked")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDigestRunQueries(t *testing.T) {
	store := Store{DB: newTestDB(t)}
	base := time.Date(2026, 1, 12, 12, 0, 0, 0, time.UTC)

	_, found, err := store.LatestDigestRun("C1")
	require.NoError(t, err)
	assert.False(t, found)

	for i, content := range []string{"older", "newer"} {
		_, err := store.SaveDigestRun(domain.DigestRun{
			ChannelID: "C1", ChannelName: "ops", Total: i + 1, Content: content, CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}, nil)
		require.NoError(t, err)
	}

	run, found, err := store.LatestDigestRun("C1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "newer", run.Content)
	assert.Equal(t, 2, run.Total)

	runs, err := store.DigestRuns(base)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "older", runs[0].Content)
}

func TestStoreLatestDigestRunQueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, channel_id").WillReturnError(errors.New("database is locked"))

	_, found, err := Store{DB: db}.LatestDigestRun("C1")
	assert.EqualError(t, err, "database is locked")
	assert.False(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}
