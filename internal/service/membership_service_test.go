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

	"github.com/noah-isme/sitereport-api/internal/models"
	appErrors "github.com/noah-isme/sitereport-api/pkg/errors"
)

type membershipRepoStub struct {
	rows  []models.Membership
	calls int
	err   error
}

func (m *membershipRepoStub) Get(ctx context.Context, organizationID, userID string) (*models.Membership, error) {
	for _, row := range m.rows {
		if row.OrganizationID == organizationID && row.UserID == userID {
			out := row
			return &out, nil
		}
	}
	return nil, appErrors.ErrNotFound
}

func (m *membershipRepoStub) ListByUser(ctx context.Context, userID string) ([]models.Membership, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []models.Membership
	for _, row := range m.rows {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	return out, nil
}

// memCacheRepo stores JSON payloads like the redis repository does.
type memCacheRepo struct {
	items map[string][]byte
}

func newMemCacheRepo() *memCacheRepo {
	return &memCacheRepo{items: map[string][]byte{}}
}

func (c *memCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := c.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.items[key] = raw
	return nil
}

func (c *memCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range c.items {
		if key == pattern || (prefix != pattern && strings.HasPrefix(key, prefix)) {
			delete(c.items, key)
		}
	}
	return nil
}

func membershipRows() []models.Membership {
	return []models.Membership{
		{OrganizationID: testOrg, UserID: viewerID, Role: models.RoleViewer},
		{OrganizationID: otherOrg, UserID: viewerID, Role: models.RoleAccountant},
		{OrganizationID: testOrg, UserID: ownerID, Role: models.RoleOwner},
	}
}

func TestMembershipServiceRole(t *testing.T) {
	repo := &membershipRepoStub{rows: membershipRows()}
	svc := NewMembershipService(repo, nil, time.Minute, zap.NewNop())

	role, err := svc.Role(context.Background(), testOrg, viewerID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, role)

	role, err = svc.Role(context.Background(), otherOrg, viewerID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAccountant, role)

	_, err = svc.Role(context.Background(), otherOrg, ownerID)
	assert.True(t, appErrors.Is(err, appErrors.ErrAccessDenied))

	_, err = svc.Role(context.Background(), "", ownerID)
	assert.True(t, appErrors.Is(err, appErrors.ErrAccessDenied))
}

func TestMembershipServiceOrganizationIDs(t *testing.T) {
	svc := NewMembershipService(&membershipRepoStub{rows: membershipRows()}, nil, time.Minute, nil)

	ids, err := svc.OrganizationIDs(context.Background(), viewerID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{testOrg, otherOrg}, ids)

	ids, err = svc.OrganizationIDs(context.Background(), outsiderID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMembershipServiceCachesLookups(t *testing.T) {
	repo := &membershipRepoStub{rows: membershipRows()}
	cache := NewCacheService(newMemCacheRepo(), nil, time.Minute, zap.NewNop(), true)
	svc := NewMembershipService(repo, cache, time.Minute, zap.NewNop())

	for i := 0; i < 3; i++ {
		role, err := svc.Role(context.Background(), testOrg, viewerID)
		require.NoError(t, err)
		assert.Equal(t, models.RoleViewer, role)
	}
	assert.Equal(t, 1, repo.calls)

	svc.Invalidate(context.Background(), viewerID)
	_, err := svc.Role(context.Background(), testOrg, viewerID)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls)
}

func TestMembershipServiceRepositoryError(t *testing.T) {
	svc := NewMembershipService(&membershipRepoStub{err: errors.New("connection refused")}, nil, time.Minute, zap.NewNop())

	_, err := svc.Role(context.Background(), testOrg, viewerID)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInternal))
}

func TestCacheServiceDisabled(t *testing.T) {
	repo := newMemCacheRepo()
	cache := NewCacheService(repo, nil, 0, nil, false)
	cache.Set(context.Background(), "k", "v", 0)
	assert.Empty(t, repo.items)

	var out string
	assert.False(t, cache.Get(context.Background(), "k", &out))

	var nilCache *CacheService
	assert.False(t, nilCache.Enabled())
	assert.False(t, nilCache.Get(context.Background(), "k", &out))
}
