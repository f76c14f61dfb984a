package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sitereport-api/internal/dto"
	"github.com/noah-isme/sitereport-api/internal/models"
	"github.com/noah-isme/sitereport-api/internal/repository"
	appErrors "github.com/noah-isme/sitereport-api/pkg/errors"
	"github.com/noah-isme/sitereport-api/pkg/jobs"
	"github.com/noah-isme/sitereport-api/pkg/storage"
)

type sweeperStub struct {
	calls int
}

func (s *sweeperStub) SweepStale(ctx context.Context) (int64, error) {
	s.calls++
	return 0, nil
}

type artifactSweeperStub struct {
	ttls []time.Duration
	err  error
}

func (a *artifactSweeperStub) CleanupOlderThan(ttl time.Duration) ([]string, error) {
	a.ttls = append(a.ttls, ttl)
	return []string{"reports/old.csv"}, a.err
}

type serviceHarness struct {
	repo      *memReportRepo
	queue     *queueStub
	sweeper   *sweeperStub
	artifacts *artifactSweeperStub
	svc       *ReportService
}

func newServiceHarness() *serviceHarness {
	h := &serviceHarness{
		repo:      newMemReportRepo(),
		queue:     &queueStub{},
		sweeper:   &sweeperStub{},
		artifacts: &artifactSweeperStub{},
	}
	signer := storage.NewSignedURLSigner("download-secret", time.Hour)
	h.svc = NewReportService(h.repo, testMembers(), h.queue, h.sweeper, h.artifacts, signer, nil, zap.NewNop(), ReportServiceConfig{
		DownloadBasePath: "/api/v1/",
		ArtifactTTL:      48 * time.Hour,
	})
	return h
}

func rawParams(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return body
}

func TestReportServiceCreateQueuesJob(t *testing.T) {
	h := newServiceHarness()

	resp, err := h.svc.Create(context.Background(), testOrg, viewerID, dto.CreateReportRequest{
		Kind:       models.ReportKindDiaryExport,
		Format:     models.ReportFormatCSV,
		Parameters: rawParams(t, map[string]interface{}{"project_id": testProject, "date_range": map[string]string{"start": "2024-03-01", "end": "2024-03-31"}}),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusQueued, resp.Status)
	assert.Equal(t, 0, resp.Progress)

	row := h.repo.get(resp.ID)
	require.NotNil(t, row)
	assert.Equal(t, "Daily Diary Export", row.Name)
	assert.Equal(t, viewerID, row.RequestedBy)
	params, ok := row.Parameters.Params.(*models.DiaryExportParams)
	require.True(t, ok)
	assert.Equal(t, "2024-03-31", params.DateRange.End.String())

	require.Len(t, h.queue.jobs, 1)
	assert.Equal(t, jobs.Job{ID: resp.ID, Type: jobs.TypeGenerateReport}, h.queue.jobs[0])
}

func TestReportServiceCreateRejectsBeforeWriting(t *testing.T) {
	cases := []struct {
		name  string
		actor string
		req   dto.CreateReportRequest
		want  *appErrors.Error
	}{
		{
			name:  "missing format",
			actor: ownerID,
			req:   dto.CreateReportRequest{Kind: models.ReportKindProjectSummary},
			want:  appErrors.ErrValidation,
		},
		{
			name:  "not a member",
			actor: outsiderID,
			req:   dto.CreateReportRequest{Kind: models.ReportKindProjectSummary, Format: models.ReportFormatPDF, Parameters: json.RawMessage(`{"project_id":"proj-1"}`)},
			want:  appErrors.ErrAccessDenied,
		},
		{
			name:  "unknown kind",
			actor: ownerID,
			req:   dto.CreateReportRequest{Kind: "payroll", Format: models.ReportFormatPDF},
			want:  appErrors.ErrInvalidParameters,
		},
		{
			name:  "itp report at intake",
			actor: ownerID,
			req:   dto.CreateReportRequest{Kind: models.ReportKindITPReport, Format: models.ReportFormatPDF, Parameters: json.RawMessage(`{"project_id":"proj-1","inspection_instance_id":"insp-1"}`)},
			want:  appErrors.ErrInvalidParameters,
		},
		{
			name:  "unknown format",
			actor: ownerID,
			req:   dto.CreateReportRequest{Kind: models.ReportKindProjectSummary, Format: "docx", Parameters: json.RawMessage(`{"project_id":"proj-1"}`)},
			want:  appErrors.ErrUnsupportedFormat,
		},
		{
			name:  "missing date range",
			actor: ownerID,
			req:   dto.CreateReportRequest{Kind: models.ReportKindFinancialSummary, Format: models.ReportFormatPDF, Parameters: json.RawMessage(`{"project_id":"proj-1"}`)},
			want:  appErrors.ErrInvalidParameters,
		},
		{
			name:  "inverted date range",
			actor: ownerID,
			req: dto.CreateReportRequest{Kind: models.ReportKindDiaryExport, Format: models.ReportFormatCSV,
				Parameters: json.RawMessage(`{"project_id":"proj-1","date_range":{"start":"2024-04-01","end":"2024-03-01"}}`)},
			want: appErrors.ErrInvalidParameters,
		},
		{
			name:  "malformed parameters",
			actor: ownerID,
			req:   dto.CreateReportRequest{Kind: models.ReportKindNCRReport, Format: models.ReportFormatJSON, Parameters: json.RawMessage(`{"project_id":42}`)},
			want:  appErrors.ErrInvalidParameters,
		},
		{
			name:  "name too long",
			actor: ownerID,
			req:   dto.CreateReportRequest{Kind: models.ReportKindProjectSummary, Format: models.ReportFormatPDF, Name: strings.Repeat("n", 201)},
			want:  appErrors.ErrValidation,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newServiceHarness()
			_, err := h.svc.Create(context.Background(), testOrg, tc.actor, tc.req)
			require.Error(t, err)
			assert.True(t, appErrors.Is(err, tc.want), "got %v", err)
			assert.Zero(t, h.repo.count())
			assert.Empty(t, h.queue.jobs)
		})
	}
}

func TestReportServiceCreateEnqueueFailureMarksRowFailed(t *testing.T) {
	h := newServiceHarness()
	h.queue.err = errors.New("queue full")

	_, err := h.svc.Create(context.Background(), testOrg, ownerID, dto.CreateReportRequest{
		Kind: models.ReportKindProjectSummary, Format: models.ReportFormatPDF, Parameters: json.RawMessage(`{"project_id":"proj-1"}`),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInternal))

	rows, _ := h.repo.List(context.Background(), models.ReportFilter{OrganizationID: testOrg})
	require.Len(t, rows, 1)
	assert.Equal(t, models.ReportStatusFailed, rows[0].Status)
	assert.Equal(t, "failed to enqueue report job", *rows[0].ErrorMessage)
}

func TestReportServiceList(t *testing.T) {
	h := newServiceHarness()
	h.repo.put(&models.ReportRequest{OrganizationID: testOrg, Kind: models.ReportKindNCRReport, Format: models.ReportFormatCSV, Status: models.ReportStatusQueued, RequestedBy: ownerID})
	h.repo.put(&models.ReportRequest{OrganizationID: testOrg, Kind: models.ReportKindDiaryExport, Format: models.ReportFormatCSV, Status: models.ReportStatusFailed, RequestedBy: viewerID})
	h.repo.put(&models.ReportRequest{OrganizationID: otherOrg, Kind: models.ReportKindNCRReport, Format: models.ReportFormatCSV, Status: models.ReportStatusQueued, RequestedBy: outsiderID})

	all, err := h.svc.List(context.Background(), testOrg, dto.ReportListQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := h.svc.List(context.Background(), testOrg, dto.ReportListQuery{RequestedBy: viewerID, Status: "FAILED"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, models.ReportKindDiaryExport, mine[0].Kind)

	_, err = h.svc.List(context.Background(), testOrg, dto.ReportListQuery{Status: "archived"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = h.svc.List(context.Background(), testOrg, dto.ReportListQuery{Limit: 500})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestReportServiceGetSignsCompletedDownloads(t *testing.T) {
	h := newServiceHarness()
	req := h.repo.put(&models.ReportRequest{OrganizationID: testOrg, Kind: models.ReportKindNCRReport, Format: models.ReportFormatCSV, Status: models.ReportStatusProcessing, RequestedBy: ownerID})
	_, err := h.repo.Complete(context.Background(), req.ID, repository.CompleteParams{FileURL: "mem://reports/a.csv", FileSize: 3, MimeType: "text/csv", CompletedAt: time.Now().UTC()})
	require.NoError(t, err)

	resp, err := h.svc.Get(context.Background(), req.ID, viewerID)
	require.NoError(t, err)
	assert.Equal(t, 100, resp.Progress)
	require.NotNil(t, resp.DownloadURL)
	assert.True(t, strings.HasPrefix(*resp.DownloadURL, "/api/v1/reports/download/"+req.ID+"."))
	require.NotNil(t, resp.DownloadExpiresAt)

	_, err = h.svc.Get(context.Background(), req.ID, outsiderID)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestReportServiceGetQueuedHasNoLink(t *testing.T) {
	h := newServiceHarness()
	req := h.repo.put(&models.ReportRequest{OrganizationID: testOrg, Kind: models.ReportKindNCRReport, Format: models.ReportFormatCSV, Status: models.ReportStatusQueued, Progress: 30, RequestedBy: ownerID})

	resp, err := h.svc.Get(context.Background(), req.ID, ownerID)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Progress)
	assert.Nil(t, resp.DownloadURL)
}

func TestReportServiceReset(t *testing.T) {
	h := newServiceHarness()
	req := h.repo.put(&models.ReportRequest{OrganizationID: testOrg, Kind: models.ReportKindNCRReport, Format: models.ReportFormatCSV, Status: models.ReportStatusQueued, RequestedBy: viewerID})
	_, err := h.repo.Fail(context.Background(), req.ID, "boom", time.Now())
	require.NoError(t, err)

	_, err = h.svc.Reset(context.Background(), req.ID, viewerID)
	assert.True(t, appErrors.Is(err, appErrors.ErrAccessDenied))
	assert.Equal(t, models.ReportStatusFailed, h.repo.get(req.ID).Status)

	resp, err := h.svc.Reset(context.Background(), req.ID, ownerID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusQueued, resp.Status)
	row := h.repo.get(req.ID)
	assert.Equal(t, models.ReportStatusQueued, row.Status)
	assert.Nil(t, row.ErrorMessage)
	require.Len(t, h.queue.jobs, 1)

	_, err = h.svc.Reset(context.Background(), req.ID, ownerID)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestReportServiceRecoverPending(t *testing.T) {
	h := newServiceHarness()
	a := h.repo.put(&models.ReportRequest{OrganizationID: testOrg, Kind: models.ReportKindNCRReport, Format: models.ReportFormatCSV, Status: models.ReportStatusQueued, RequestedBy: ownerID})
	h.repo.put(&models.ReportRequest{OrganizationID: testOrg, Kind: models.ReportKindNCRReport, Format: models.ReportFormatCSV, Status: models.ReportStatusFailed, RequestedBy: ownerID})

	recovered, err := h.svc.RecoverPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
	require.Len(t, h.queue.jobs, 1)
	assert.Equal(t, a.ID, h.queue.jobs[0].ID)
}

func TestReportServiceMaintain(t *testing.T) {
	h := newServiceHarness()

	h.svc.Maintain(context.Background())

	assert.Equal(t, 1, h.sweeper.calls)
	assert.Equal(t, []time.Duration{48 * time.Hour}, h.artifacts.ttls)
}
