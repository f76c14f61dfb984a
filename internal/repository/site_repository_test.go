package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sitereport-api/internal/models"
)

func TestSiteRepositoryListDiariesScopesAndRanges(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSiteRepository(db)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "organization_id", "project_id", "diary_date", "weather", "summary", "status", "submitted_by"}).
		AddRow("d1", "org-1", "P1", from, "Fine", "Excavation", "submitted", "user-1")
	mock.ExpectQuery(regexp.QuoteMeta("FROM daily_diaries d WHERE d.organization_id = $1 AND d.project_id = $2 AND d.diary_date >= $3 AND d.diary_date < $4 AND d.status = $5 ORDER BY d.diary_date ASC")).
		WithArgs("org-1", "P1", from, to, "submitted").
		WillReturnRows(rows)

	diaries, err := repo.ListDiaries(context.Background(), models.SiteRecordFilter{
		OrganizationID: "org-1", ProjectID: "P1", From: &from, To: &to, Status: "submitted",
	})
	require.NoError(t, err)
	require.Len(t, diaries, 1)
	require.Equal(t, "2024-01-01", diaries[0].Record()["diary_date"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSiteRepositoryListLabourFiltersDiaries(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSiteRepository(db)

	rows := sqlmock.NewRows([]string{"id", "organization_id", "project_id", "diary_id", "diary_date", "worker_name", "trade", "hours", "hourly_rate", "total_cost"}).
		AddRow("l1", "org-1", "P1", "d1", time.Now(), "Sam", "Carpenter", 8.0, 55.0, 440.0)
	mock.ExpectQuery(regexp.QuoteMeta("FROM diary_labour l JOIN daily_diaries d ON d.id = l.diary_id AND d.organization_id = l.organization_id WHERE l.organization_id = $1 AND l.project_id = $2 AND l.diary_id IN ($3, $4)")).
		WithArgs("org-1", "P1", "d1", "d2").
		WillReturnRows(rows)

	entries, err := repo.ListLabour(context.Background(), models.SiteRecordFilter{
		OrganizationID: "org-1", ProjectID: "P1", DiaryIDs: []string{"d1", "d2"},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 440.0, entries[0].TotalCost)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSiteRepositoryGetProject(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSiteRepository(db)

	rows := sqlmock.NewRows([]string{"id", "organization_id", "name", "code", "client", "location", "status", "start_date", "end_date"}).
		AddRow("P1", "org-1", "Harbour Tower", "HT", nil, nil, "active", nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM projects WHERE organization_id = $1 AND id = $2")).
		WithArgs("org-1", "P1").
		WillReturnRows(rows)

	project, err := repo.GetProject(context.Background(), "org-1", "P1")
	require.NoError(t, err)
	require.Equal(t, "Harbour Tower", project.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}
