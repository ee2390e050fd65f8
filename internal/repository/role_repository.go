package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/incident-sync/internal/domain"
)

// RoleRepository persists role assignments on incidents.
type RoleRepository interface {
	Assign(ctx context.Context, assignment *domain.RoleAssignment) error
	GetByRole(ctx context.Context, incidentID string, role domain.IncidentRole) (*domain.RoleAssignment, error)
	ListByIncident(ctx context.Context, incidentID string) ([]domain.RoleAssignment, error)
}

type roleRepository struct {
	pool *pgxpool.Pool
}

// NewRoleRepository instantiates repository.
func NewRoleRepository(pool *pgxpool.Pool) RoleRepository {
	return &roleRepository{pool: pool}
}

// assignRole upserts a role row. Singleton roles replace the current holder;
// membership rows are additive and deduplicated per user.
func assignRole(ctx context.Context, q rowQuerier, assignment *domain.RoleAssignment) error {
	if assignment.Role.Singleton() {
		const query = `
        INSERT INTO incident_roles (incident_id, role, user_id)
        VALUES ($1,$2,$3)
        ON CONFLICT (incident_id, role) WHERE role <> 'MEMBER'
        DO UPDATE SET user_id=EXCLUDED.user_id, created_at=NOW()
        RETURNING id, created_at`
		return q.QueryRow(ctx, query,
			assignment.IncidentID, assignment.Role, assignment.UserID,
		).Scan(&assignment.ID, &assignment.CreatedAt)
	}
	const query = `
        INSERT INTO incident_roles (incident_id, role, user_id)
        VALUES ($1,$2,$3)
        ON CONFLICT (incident_id, role, user_id) DO UPDATE SET user_id=EXCLUDED.user_id
        RETURNING id, created_at`
	return q.QueryRow(ctx, query,
		assignment.IncidentID, assignment.Role, assignment.UserID,
	).Scan(&assignment.ID, &assignment.CreatedAt)
}

func (r *roleRepository) Assign(ctx context.Context, assignment *domain.RoleAssignment) error {
	return assignRole(ctx, r.pool, assignment)
}

func (r *roleRepository) GetByRole(ctx context.Context, incidentID string, role domain.IncidentRole) (*domain.RoleAssignment, error) {
	const query = `
        SELECT id, incident_id, role, user_id, created_at
        FROM incident_roles WHERE incident_id=$1 AND role=$2`
	var assignment domain.RoleAssignment
	if err := r.pool.QueryRow(ctx, query, incidentID, role).Scan(
		&assignment.ID,
		&assignment.IncidentID,
		&assignment.Role,
		&assignment.UserID,
		&assignment.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &assignment, nil
}

func (r *roleRepository) ListByIncident(ctx context.Context, incidentID string) ([]domain.RoleAssignment, error) {
	const query = `
        SELECT id, incident_id, role, user_id, created_at
        FROM incident_roles WHERE incident_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRoles(rows)
}

func scanRoles(rows pgx.Rows) ([]domain.RoleAssignment, error) {
	var result []domain.RoleAssignment
	for rows.Next() {
		var assignment domain.RoleAssignment
		if err := rows.Scan(
			&assignment.ID,
			&assignment.IncidentID,
			&assignment.Role,
			&assignment.UserID,
			&assignment.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, assignment)
	}
	return result, rows.Err()
}
