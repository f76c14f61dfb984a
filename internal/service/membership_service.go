package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sitereport-api/internal/models"
	appErrors "github.com/noah-isme/sitereport-api/pkg/errors"
)

type membershipStore interface {
	Get(ctx context.Context, organizationID, userID string) (*models.Membership, error)
	ListByUser(ctx context.Context, userID string) ([]models.Membership, error)
}

// MembershipService resolves organization roles. The token only carries the user
// identity; roles always come from organization_members, optionally cached.
type MembershipService struct {
	repo   membershipStore
	cache  *CacheService
	ttl    time.Duration
	logger *zap.Logger
}

// NewMembershipService constructs the service. cache may be nil.
func NewMembershipService(repo membershipStore, cache *CacheService, ttl time.Duration, logger *zap.Logger) *MembershipService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MembershipService{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// Role returns the role of userID in organizationID, or ErrAccessDenied when the
// user is not a member.
func (s *MembershipService) Role(ctx context.Context, organizationID, userID string) (models.OrgRole, error) {
	if organizationID == "" || userID == "" {
		return "", appErrors.ErrAccessDenied
	}
	memberships, err := s.memberships(ctx, userID)
	if err != nil {
		return "", err
	}
	for _, m := range memberships {
		if m.OrganizationID == organizationID {
			return m.Role, nil
		}
	}
	return "", appErrors.ErrAccessDenied
}

// OrganizationIDs lists the organizations userID belongs to.
func (s *MembershipService) OrganizationIDs(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, nil
	}
	memberships, err := s.memberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.OrganizationID)
	}
	return ids, nil
}

// Invalidate drops the cached memberships of userID.
func (s *MembershipService) Invalidate(ctx context.Context, userID string) {
	s.cache.Invalidate(ctx, membershipCacheKey(userID))
}

func (s *MembershipService) memberships(ctx context.Context, userID string) ([]models.Membership, error) {
	key := membershipCacheKey(userID)
	var cached []models.Membership
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}
	rows, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load memberships")
	}
	s.cache.Set(ctx, key, rows, s.ttl)
	return rows, nil
}

func membershipCacheKey(userID string) string {
	return "membership:" + userID
}
