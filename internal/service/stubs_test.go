package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sitereport-api/internal/models"
	"github.com/noah-isme/sitereport-api/internal/repository"
	appErrors "github.com/noah-isme/sitereport-api/pkg/errors"
	"github.com/noah-isme/sitereport-api/pkg/jobs"
	"github.com/noah-isme/sitereport-api/pkg/notify"
	"github.com/noah-isme/sitereport-api/pkg/storage"
)

// memReportRepo mirrors the conditional UPDATE semantics of the SQL repository.
type memReportRepo struct {
	mu        sync.Mutex
	rows      map[string]*models.ReportRequest
	createErr error
	listErr   error
	commitErr error
	deleted   []string
}

func newMemReportRepo() *memReportRepo {
	return &memReportRepo{rows: map[string]*models.ReportRequest{}}
}

func copyReport(req *models.ReportRequest) *models.ReportRequest {
	out := *req
	return &out
}

func (r *memReportRepo) put(req *models.ReportRequest) *models.ReportRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = req.RequestedAt
	}
	r.rows[req.ID] = copyReport(req)
	return req
}

func (r *memReportRepo) get(id string) *models.ReportRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil
	}
	return copyReport(row)
}

func (r *memReportRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *memReportRepo) Create(ctx context.Context, req *models.ReportRequest) error {
	if r.createErr != nil {
		return r.createErr
	}
	if req.Status == "" {
		req.Status = models.ReportStatusQueued
	}
	r.put(req)
	return nil
}

func (r *memReportRepo) GetByID(ctx context.Context, id string) (*models.ReportRequest, error) {
	if row := r.get(id); row != nil {
		return row, nil
	}
	return nil, fmt.Errorf("get report request: %w", sql.ErrNoRows)
}

func (r *memReportRepo) GetScoped(ctx context.Context, id string, organizationIDs []string) (*models.ReportRequest, error) {
	row := r.get(id)
	if row == nil {
		return nil, fmt.Errorf("get report request: %w", sql.ErrNoRows)
	}
	for _, org := range organizationIDs {
		if org == row.OrganizationID {
			return row, nil
		}
	}
	return nil, fmt.Errorf("get report request: %w", sql.ErrNoRows)
}

func (r *memReportRepo) List(ctx context.Context, filter models.ReportFilter) ([]models.ReportRequest, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ReportRequest
	for _, row := range r.rows {
		if row.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.RequestedBy != "" && row.RequestedBy != filter.RequestedBy {
			continue
		}
		if filter.Status != "" && row.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && row.Kind != filter.Kind {
			continue
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memReportRepo) ListRecentByKind(ctx context.Context, organizationID string, kind models.ReportKind, limit int) ([]models.ReportRequest, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.List(ctx, models.ReportFilter{OrganizationID: organizationID, Kind: kind, Limit: limit})
}

func (r *memReportRepo) ListQueued(ctx context.Context, limit int) ([]models.ReportRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ReportRequest
	for _, row := range r.rows {
		if row.Status == models.ReportStatusQueued {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (r *memReportRepo) transition(id string, from []models.ReportStatus, apply func(row *models.ReportRequest)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return false
	}
	for _, status := range from {
		if row.Status == status {
			apply(row)
			return true
		}
	}
	return false
}

func (r *memReportRepo) Claim(ctx context.Context, id, step string, progress int, now time.Time) (bool, error) {
	return r.transition(id, []models.ReportStatus{models.ReportStatusQueued}, func(row *models.ReportRequest) {
		row.Status = models.ReportStatusProcessing
		row.Progress = progress
		row.CurrentStep = &step
		row.UpdatedAt = now
	}), nil
}

func (r *memReportRepo) UpdateProgress(ctx context.Context, id string, progress int, step string, now time.Time) (bool, error) {
	return r.transition(id, []models.ReportStatus{models.ReportStatusProcessing}, func(row *models.ReportRequest) {
		if progress > row.Progress {
			row.Progress = progress
		}
		row.CurrentStep = &step
		row.UpdatedAt = now
	}), nil
}

func (r *memReportRepo) Complete(ctx context.Context, id string, params repository.CompleteParams) (bool, error) {
	return r.transition(id, []models.ReportStatus{models.ReportStatusProcessing}, func(row *models.ReportRequest) {
		step := "completed"
		url, size, mime, at := params.FileURL, params.FileSize, params.MimeType, params.CompletedAt
		row.Status = models.ReportStatusCompleted
		row.Progress = 100
		row.CurrentStep = &step
		row.ErrorMessage = nil
		row.FileURL = &url
		row.FileSize = &size
		row.MimeType = &mime
		row.CompletedAt = &at
		row.UpdatedAt = at
	}), nil
}

func (r *memReportRepo) Fail(ctx context.Context, id, message string, now time.Time) (bool, error) {
	return r.transition(id, []models.ReportStatus{models.ReportStatusQueued, models.ReportStatusProcessing}, func(row *models.ReportRequest) {
		step := "failed"
		msg := message
		row.Status = models.ReportStatusFailed
		row.CurrentStep = &step
		row.ErrorMessage = &msg
		row.FileURL = nil
		row.FileSize = nil
		row.CompletedAt = nil
		row.UpdatedAt = now
	}), nil
}

func (r *memReportRepo) Reset(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.transition(id, []models.ReportStatus{models.ReportStatusFailed}, func(row *models.ReportRequest) {
		row.Status = models.ReportStatusQueued
		row.Progress = 0
		row.CurrentStep = nil
		row.ErrorMessage = nil
		row.FileURL = nil
		row.FileSize = nil
		row.MimeType = nil
		row.CompletedAt = nil
		row.UpdatedAt = now
	}), nil
}

func (r *memReportRepo) FailStale(ctx context.Context, cutoff time.Time, message string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var swept int64
	for _, row := range r.rows {
		if row.Status == models.ReportStatusProcessing && row.UpdatedAt.Before(cutoff) {
			msg := message
			row.Status = models.ReportStatusFailed
			row.ErrorMessage = &msg
			row.UpdatedAt = now
			swept++
		}
	}
	return swept, nil
}

func (r *memReportRepo) Overwrite(ctx context.Context, req *models.ReportRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[req.ID]
	if !ok || row.OrganizationID != req.OrganizationID {
		return fmt.Errorf("overwrite report request: %w", sql.ErrNoRows)
	}
	r.rows[req.ID] = copyReport(req)
	return nil
}

func (r *memReportRepo) Delete(ctx context.Context, id string, beforeCommit func(context.Context) error) error {
	r.mu.Lock()
	_, ok := r.rows[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("delete report request: %w", sql.ErrNoRows)
	}
	if beforeCommit != nil {
		if err := beforeCommit(ctx); err != nil {
			return fmt.Errorf("delete report artifact: %w", err)
		}
	}
	if r.commitErr != nil {
		return fmt.Errorf("commit delete report request: %w", r.commitErr)
	}
	r.mu.Lock()
	delete(r.rows, id)
	r.deleted = append(r.deleted, id)
	r.mu.Unlock()
	return nil
}

// siteStub serves fixed site records and records the filters it was asked for.
type siteStub struct {
	projects    []models.Project
	diaries     []models.DailyDiary
	inspections []models.Inspection
	ncrs        []models.NCR
	labour      []models.LabourEntry
	plant       []models.PlantEntry
	materials   []models.MaterialEntry
	err         error
	panicOn     string
	calls       []string
	filters     []models.SiteRecordFilter
}

func (s *siteStub) record(call string, filter models.SiteRecordFilter) error {
	s.calls = append(s.calls, call)
	s.filters = append(s.filters, filter)
	if s.panicOn == call {
		panic("boom in " + call)
	}
	return s.err
}

func (s *siteStub) GetProject(ctx context.Context, organizationID, projectID string) (*models.Project, error) {
	if err := s.record("GetProject", models.SiteRecordFilter{OrganizationID: organizationID, ProjectID: projectID}); err != nil {
		return nil, err
	}
	for _, p := range s.projects {
		if p.ID == projectID && p.OrganizationID == organizationID {
			project := p
			return &project, nil
		}
	}
	return nil, fmt.Errorf("get project: %w", sql.ErrNoRows)
}

func (s *siteStub) ListDiaries(ctx context.Context, filter models.SiteRecordFilter) ([]models.DailyDiary, error) {
	if err := s.record("ListDiaries", filter); err != nil {
		return nil, err
	}
	return s.diaries, nil
}

func (s *siteStub) ListInspections(ctx context.Context, filter models.SiteRecordFilter) ([]models.Inspection, error) {
	if err := s.record("ListInspections", filter); err != nil {
		return nil, err
	}
	return s.inspections, nil
}

func (s *siteStub) GetInspection(ctx context.Context, organizationID, inspectionID string) (*models.Inspection, error) {
	if err := s.record("GetInspection", models.SiteRecordFilter{OrganizationID: organizationID}); err != nil {
		return nil, err
	}
	for _, i := range s.inspections {
		if i.ID == inspectionID && i.OrganizationID == organizationID {
			inspection := i
			return &inspection, nil
		}
	}
	return nil, fmt.Errorf("get inspection: %w", sql.ErrNoRows)
}

func (s *siteStub) ListNCRs(ctx context.Context, filter models.SiteRecordFilter) ([]models.NCR, error) {
	if err := s.record("ListNCRs", filter); err != nil {
		return nil, err
	}
	return s.ncrs, nil
}

func (s *siteStub) ListLabour(ctx context.Context, filter models.SiteRecordFilter) ([]models.LabourEntry, error) {
	if err := s.record("ListLabour", filter); err != nil {
		return nil, err
	}
	return s.labour, nil
}

func (s *siteStub) ListPlant(ctx context.Context, filter models.SiteRecordFilter) ([]models.PlantEntry, error) {
	if err := s.record("ListPlant", filter); err != nil {
		return nil, err
	}
	return s.plant, nil
}

func (s *siteStub) ListMaterials(ctx context.Context, filter models.SiteRecordFilter) ([]models.MaterialEntry, error) {
	if err := s.record("ListMaterials", filter); err != nil {
		return nil, err
	}
	return s.materials, nil
}

// memberStub maps user -> organization -> role.
type memberStub struct {
	roles map[string]map[string]models.OrgRole
	err   error
}

func newMemberStub() *memberStub {
	return &memberStub{roles: map[string]map[string]models.OrgRole{}}
}

func (m *memberStub) add(org, user string, role models.OrgRole) *memberStub {
	if m.roles[user] == nil {
		m.roles[user] = map[string]models.OrgRole{}
	}
	m.roles[user][org] = role
	return m
}

func (m *memberStub) Role(ctx context.Context, organizationID, userID string) (models.OrgRole, error) {
	if m.err != nil {
		return "", m.err
	}
	role, ok := m.roles[userID][organizationID]
	if !ok {
		return "", appErrors.ErrAccessDenied
	}
	return role, nil
}

func (m *memberStub) OrganizationIDs(ctx context.Context, userID string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []string
	for org := range m.roles[userID] {
		out = append(out, org)
	}
	sort.Strings(out)
	return out, nil
}

// memBlobStore is an in-memory storage.BlobStore.
type memBlobStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	putErr    error
	deleteErr error
	deletes   []string
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: map[string][]byte{}}
}

func (s *memBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if s.putErr != nil {
		return "", s.putErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	location := "mem://" + key
	s.objects[location] = append([]byte(nil), data...)
	return location, nil
}

func (s *memBlobStore) Get(ctx context.Context, location string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[location]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (s *memBlobStore) Delete(ctx context.Context, location string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, location)
	delete(s.objects, location)
	return nil
}

func (s *memBlobStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []notify.ReportEvent
	err    error
}

func (e *eventRecorder) Publish(ctx context.Context, event notify.ReportEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return e.err
}

func (e *eventRecorder) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.EventType
	}
	return out
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func strPtr(s string) *string { return &s }

func day(raw string) time.Time {
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		panic(err)
	}
	return t
}

func dateRange(start, end string) *models.DateRange {
	s, _ := models.ParseDate(start)
	e, _ := models.ParseDate(end)
	return &models.DateRange{Start: s, End: e}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func containsString(list []string, want string) bool {
	for _, item := range list {
		if strings.EqualFold(item, want) {
			return true
		}
	}
	return false
}
