package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/incident-sync/internal/domain"
)

// IncidentFilter captures listing parameters.
type IncidentFilter struct {
	Statuses    []domain.IncidentStatus
	Priorities  []domain.IncidentPriority
	Environment *string
	CreatorID   *string
	Limit       int
	Offset      int
}

// IncidentRepository encapsulates incident persistence. The write paths that
// pair a field mutation with milestone appends run in a single transaction:
// both commit or neither does.
type IncidentRepository interface {
	CreateWithSetup(ctx context.Context, incident *domain.Incident, roles []domain.RoleAssignment, milestones []*domain.Milestone) error
	SaveWithMilestone(ctx context.Context, incident *domain.Incident, milestone *domain.Milestone) error
	GetByID(ctx context.Context, id string) (*domain.Incident, error)
	GetByReference(ctx context.Context, reference string) (*domain.Incident, error)
	ListWithFilter(ctx context.Context, filter IncidentFilter) ([]domain.Incident, error)
}

type incidentRepository struct {
	pool *pgxpool.Pool
}

// NewIncidentRepository instantiates repository.
func NewIncidentRepository(pool *pgxpool.Pool) IncidentRepository {
	return &incidentRepository{pool: pool}
}

const incidentColumns = `id, reference, creator_id, title, description, status, priority, environment,
               closure_reason, closure_reference, ignore_closure_gate, custom_fields,
               created_at, updated_at, closed_at`

func (r *incidentRepository) CreateWithSetup(ctx context.Context, incident *domain.Incident, roles []domain.RoleAssignment, milestones []*domain.Milestone) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `
        INSERT INTO incidents (reference, creator_id, title, description, status, priority, environment,
                               closure_reason, closure_reference, ignore_closure_gate, custom_fields)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        RETURNING id, created_at, updated_at`
		if err := tx.QueryRow(ctx, query,
			incident.Reference,
			incident.CreatorID,
			incident.Title,
			incident.Description,
			incident.Status,
			incident.Priority,
			incident.Environment,
			incident.ClosureReason,
			incident.ClosureReference,
			incident.Ignore,
			incident.CustomFields,
		).Scan(&incident.ID, &incident.CreatedAt, &incident.UpdatedAt); err != nil {
			return err
		}
		for i := range roles {
			roles[i].IncidentID = incident.ID
			if err := assignRole(ctx, tx, &roles[i]); err != nil {
				return err
			}
		}
		for _, m := range milestones {
			m.IncidentID = incident.ID
			if err := insertMilestone(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *incidentRepository) SaveWithMilestone(ctx context.Context, incident *domain.Incident, milestone *domain.Milestone) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `
        UPDATE incidents SET title=$1, description=$2, status=$3, priority=$4, environment=$5,
            closure_reason=$6, closure_reference=$7, ignore_closure_gate=$8, custom_fields=$9,
            closed_at=$10, updated_at=NOW()
        WHERE id=$11`
		cmd, err := tx.Exec(ctx, query,
			incident.Title,
			incident.Description,
			incident.Status,
			incident.Priority,
			incident.Environment,
			incident.ClosureReason,
			incident.ClosureReference,
			incident.Ignore,
			incident.CustomFields,
			incident.ClosedAt,
			incident.ID,
		)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		if milestone != nil {
			milestone.IncidentID = incident.ID
			if err := insertMilestone(ctx, tx, milestone); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *incidentRepository) GetByID(ctx context.Context, id string) (*domain.Incident, error) {
	query := fmt.Sprintf(`SELECT %s FROM incidents WHERE id=$1`, incidentColumns)
	return r.fetchSingle(ctx, query, id)
}

func (r *incidentRepository) GetByReference(ctx context.Context, reference string) (*domain.Incident, error) {
	query := fmt.Sprintf(`SELECT %s FROM incidents WHERE reference=$1`, incidentColumns)
	return r.fetchSingle(ctx, query, reference)
}

func (r *incidentRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Incident, error) {
	var incident domain.Incident
	if err := scanIncident(r.pool.QueryRow(ctx, query, arg), &incident); err != nil {
		return nil, err
	}
	return &incident, nil
}

func (r *incidentRepository) ListWithFilter(ctx context.Context, filter IncidentFilter) ([]domain.Incident, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Environment != nil {
		args = append(args, *filter.Environment)
		clauses = append(clauses, fmt.Sprintf("environment=$%d", len(args)))
	}
	if filter.CreatorID != nil {
		args = append(args, *filter.CreatorID)
		clauses = append(clauses, fmt.Sprintf("creator_id=$%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM incidents WHERE %s ORDER BY updated_at DESC LIMIT %d OFFSET %d`,
		incidentColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Incident
	for rows.Next() {
		var incident domain.Incident
		if err := scanIncident(rows, &incident); err != nil {
			return nil, err
		}
		result = append(result, incident)
	}
	return result, rows.Err()
}

func scanIncident(row pgx.Row, incident *domain.Incident) error {
	return row.Scan(
		&incident.ID,
		&incident.Reference,
		&incident.CreatorID,
		&incident.Title,
		&incident.Description,
		&incident.Status,
		&incident.Priority,
		&incident.Environment,
		&incident.ClosureReason,
		&incident.ClosureReference,
		&incident.Ignore,
		&incident.CustomFields,
		&incident.CreatedAt,
		&incident.UpdatedAt,
		&incident.ClosedAt,
	)
}
