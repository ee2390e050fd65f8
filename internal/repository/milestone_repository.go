package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/incident-sync/internal/domain"
)

// MilestoneRepository encapsulates the append-only milestone log.
type MilestoneRepository interface {
	Create(ctx context.Context, milestone *domain.Milestone) error
	ListByIncident(ctx context.Context, incidentID string) ([]domain.Milestone, error)
	UpsertByEventType(ctx context.Context, milestone *domain.Milestone) error
}

type milestoneRepository struct {
	pool *pgxpool.Pool
}

// NewMilestoneRepository instantiates repository.
func NewMilestoneRepository(pool *pgxpool.Pool) MilestoneRepository {
	return &milestoneRepository{pool: pool}
}

// rowQuerier is satisfied by *pgxpool.Pool and pgx.Tx so milestone inserts can
// join an enclosing incident transaction.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertMilestone(ctx context.Context, q rowQuerier, m *domain.Milestone) error {
	const query = `
        INSERT INTO incident_milestones (incident_id, event_type, status, priority, author_id, message, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,COALESCE($7, NOW()))
        RETURNING id, created_at`
	var createdAt *time.Time
	if !m.CreatedAt.IsZero() {
		createdAt = &m.CreatedAt
	}
	return q.QueryRow(ctx, query,
		m.IncidentID,
		m.EventType,
		m.Status,
		m.Priority,
		m.AuthorID,
		m.Message,
		createdAt,
	).Scan(&m.ID, &m.CreatedAt)
}

func (r *milestoneRepository) Create(ctx context.Context, milestone *domain.Milestone) error {
	return insertMilestone(ctx, r.pool, milestone)
}

func (r *milestoneRepository) ListByIncident(ctx context.Context, incidentID string) ([]domain.Milestone, error) {
	const query = `
        SELECT id, incident_id, event_type, status, priority, author_id, message, created_at
        FROM incident_milestones WHERE incident_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Milestone
	for rows.Next() {
		var m domain.Milestone
		if err := rows.Scan(
			&m.ID,
			&m.IncidentID,
			&m.EventType,
			&m.Status,
			&m.Priority,
			&m.AuthorID,
			&m.Message,
			&m.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// UpsertByEventType writes a synthetic milestone keyed by its event type,
// replacing the timestamp and author of an existing entry with the same type.
// Used for the "recovered" marker written when an incident reaches Mitigated.
func (r *milestoneRepository) UpsertByEventType(ctx context.Context, milestone *domain.Milestone) error {
	if milestone.EventType == nil {
		return insertMilestone(ctx, r.pool, milestone)
	}
	const update = `
        UPDATE incident_milestones SET status=$1, priority=$2, author_id=$3, message=$4, created_at=$5
        WHERE id = (
            SELECT id FROM incident_milestones
            WHERE incident_id=$6 AND event_type=$7
            ORDER BY created_at DESC LIMIT 1
        )
        RETURNING id`
	createdAt := milestone.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	err := r.pool.QueryRow(ctx, update,
		milestone.Status,
		milestone.Priority,
		milestone.AuthorID,
		milestone.Message,
		createdAt,
		milestone.IncidentID,
		*milestone.EventType,
	).Scan(&milestone.ID)
	if err == pgx.ErrNoRows {
		milestone.CreatedAt = createdAt
		return insertMilestone(ctx, r.pool, milestone)
	}
	if err == nil {
		milestone.CreatedAt = createdAt
	}
	return err
}
