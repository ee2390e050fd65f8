package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/incident-sync/internal/domain"
)

// ExternalTicketRepository persists the incident/ticket link table.
type ExternalTicketRepository interface {
	Create(ctx context.Context, ticket *domain.ExternalTicket) error
	GetByKey(ctx context.Context, externalKey string) (*domain.ExternalTicket, error)
	GetByIncident(ctx context.Context, incidentID string) (*domain.ExternalTicket, error)
	UpdateExternalState(ctx context.Context, externalKey, status, priority string) error
}

type externalTicketRepository struct {
	pool *pgxpool.Pool
}

// NewExternalTicketRepository instantiates repository.
func NewExternalTicketRepository(pool *pgxpool.Pool) ExternalTicketRepository {
	return &externalTicketRepository{pool: pool}
}

func (r *externalTicketRepository) Create(ctx context.Context, ticket *domain.ExternalTicket) error {
	const query = `
        INSERT INTO external_tickets (external_key, incident_id, status, priority, project_key, category)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.ExternalKey,
		ticket.IncidentID,
		ticket.Status,
		ticket.Priority,
		ticket.ProjectKey,
		ticket.Category,
	).Scan(&ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *externalTicketRepository) GetByKey(ctx context.Context, externalKey string) (*domain.ExternalTicket, error) {
	const query = `
        SELECT external_key, incident_id, status, priority, project_key, category, created_at, updated_at
        FROM external_tickets WHERE external_key=$1`
	return r.fetchSingle(ctx, query, externalKey)
}

func (r *externalTicketRepository) GetByIncident(ctx context.Context, incidentID string) (*domain.ExternalTicket, error) {
	const query = `
        SELECT external_key, incident_id, status, priority, project_key, category, created_at, updated_at
        FROM external_tickets WHERE incident_id=$1`
	return r.fetchSingle(ctx, query, incidentID)
}

func (r *externalTicketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.ExternalTicket, error) {
	var ticket domain.ExternalTicket
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&ticket.ExternalKey,
		&ticket.IncidentID,
		&ticket.Status,
		&ticket.Priority,
		&ticket.ProjectKey,
		&ticket.Category,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *externalTicketRepository) UpdateExternalState(ctx context.Context, externalKey, status, priority string) error {
	const query = `
        UPDATE external_tickets SET status=$1, priority=$2, updated_at=NOW() WHERE external_key=$3`
	cmd, err := r.pool.Exec(ctx, query, status, priority, externalKey)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
