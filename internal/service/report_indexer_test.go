package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sitereport-api/internal/models"
	appErrors "github.com/noah-isme/sitereport-api/pkg/errors"
	"github.com/noah-isme/sitereport-api/pkg/notify"
)

type steppingClock struct {
	now time.Time
}

func (c *steppingClock) tick() time.Time {
	c.now = c.now.Add(time.Minute)
	return c.now
}

func newTestIndexer(repo *memReportRepo, events *eventRecorder) (*ReportIndexer, *steppingClock) {
	clock := &steppingClock{now: time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)}
	var publisher eventPublisher
	if events != nil {
		publisher = events
	}
	indexer := NewReportIndexer(repo, 0, publisher, nil, zap.NewNop())
	indexer.now = clock.tick
	return indexer, clock
}

func finalizedEvent() InspectionFinalized {
	return InspectionFinalized{
		OrganizationID:       testOrg,
		ProjectID:            testProject,
		InspectionInstanceID: "insp-1",
		TemplateName:         "Slab pour",
		Result:               "passed",
		FinalizedBy:          foremanID,
	}
}

func TestOnInspectionFinalizedTwiceKeepsOneRow(t *testing.T) {
	repo := newMemReportRepo()
	events := &eventRecorder{}
	indexer, _ := newTestIndexer(repo, events)

	indexer.OnInspectionFinalized(context.Background(), finalizedEvent())
	rows, err := repo.List(context.Background(), models.ReportFilter{OrganizationID: testOrg})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	first := rows[0]

	second := finalizedEvent()
	second.Result = "failed"
	indexer.OnInspectionFinalized(context.Background(), second)

	rows, err = repo.List(context.Background(), models.ReportFilter{OrganizationID: testOrg})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	updated := rows[0]
	assert.Equal(t, first.ID, updated.ID)
	assert.True(t, updated.UpdatedAt.After(first.UpdatedAt))
	assert.Equal(t, models.ReportStatusCompleted, updated.Status)
	assert.Equal(t, "ITP Report - Slab pour", updated.Name)
	require.NotNil(t, updated.FileURL)
	assert.Equal(t, "record://inspections/insp-1", *updated.FileURL)
	params, ok := updated.Parameters.Params.(*models.ITPReportParams)
	require.True(t, ok)
	assert.Equal(t, "failed", params.Result)
	assert.Equal(t, []string{notify.EventReportIndexed, notify.EventReportIndexed}, events.types())
}

func TestOnInspectionFinalizedDistinctInspections(t *testing.T) {
	repo := newMemReportRepo()
	indexer, _ := newTestIndexer(repo, nil)

	indexer.OnInspectionFinalized(context.Background(), finalizedEvent())
	other := finalizedEvent()
	other.InspectionInstanceID = "insp-2"
	indexer.OnInspectionFinalized(context.Background(), other)

	assert.Equal(t, 2, repo.count())
}

func TestOnInspectionFinalizedSwallowsFailures(t *testing.T) {
	repo := newMemReportRepo()
	repo.listErr = errors.New("database is down")
	indexer, _ := newTestIndexer(repo, &eventRecorder{})

	assert.NotPanics(t, func() {
		indexer.OnInspectionFinalized(context.Background(), finalizedEvent())
	})
	assert.Zero(t, repo.count())

	invalid := finalizedEvent()
	invalid.InspectionInstanceID = ""
	assert.NotPanics(t, func() {
		indexer.OnInspectionFinalized(context.Background(), invalid)
	})
}

func TestOnInspectionFinalizedPublishFailureKeepsRow(t *testing.T) {
	repo := newMemReportRepo()
	indexer, _ := newTestIndexer(repo, &eventRecorder{err: errors.New("nats: connection closed")})

	indexer.OnInspectionFinalized(context.Background(), finalizedEvent())
	assert.Equal(t, 1, repo.count())
}

func TestUpsertRejectsMismatchedKey(t *testing.T) {
	repo := newMemReportRepo()
	indexer, _ := newTestIndexer(repo, nil)

	_, err := indexer.Upsert(context.Background(), testOrg, models.ReportKindITPReport, "insp-9", IndexEntry{
		Parameters: &models.ITPReportParams{ProjectID: testProject, InspectionInstanceID: "insp-1"},
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidParameters))

	_, err = indexer.Upsert(context.Background(), testOrg, models.ReportKindITPReport, " ", IndexEntry{})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidParameters))
	assert.Zero(t, repo.count())
}

func TestUpsertIsScopedPerOrganization(t *testing.T) {
	repo := newMemReportRepo()
	indexer, _ := newTestIndexer(repo, nil)
	entry := IndexEntry{
		Parameters: &models.ITPReportParams{ProjectID: testProject, InspectionInstanceID: "insp-1"},
		Pointer:    InspectionPointer("insp-1"),
	}

	a, err := indexer.Upsert(context.Background(), testOrg, models.ReportKindITPReport, "insp-1", entry)
	require.NoError(t, err)
	b, err := indexer.Upsert(context.Background(), otherOrg, models.ReportKindITPReport, "insp-1", entry)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "ITP Report", a.Name)
	assert.Equal(t, "application/pdf", *a.MimeType)
}
