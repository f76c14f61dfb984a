package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sitereport-api/internal/models"
)

// MembershipRepository reads organization membership rows.
type MembershipRepository struct {
	db *sqlx.DB
}

// NewMembershipRepository constructs the repository.
func NewMembershipRepository(db *sqlx.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// Get returns the membership of userID in organizationID. Misses wrap sql.ErrNoRows.
func (r *MembershipRepository) Get(ctx context.Context, organizationID, userID string) (*models.Membership, error) {
	const query = `SELECT organization_id, user_id, role FROM organization_members WHERE organization_id = $1 AND user_id = $2`
	var membership models.Membership
	if err := r.db.GetContext(ctx, &membership, query, organizationID, userID); err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return &membership, nil
}

// ListByUser returns every membership of userID.
func (r *MembershipRepository) ListByUser(ctx context.Context, userID string) ([]models.Membership, error) {
	const query = `SELECT organization_id, user_id, role FROM organization_members WHERE user_id = $1 ORDER BY organization_id`
	var rows []models.Membership
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	return rows, nil
}
