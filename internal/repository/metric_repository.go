package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/incident-sync/internal/domain"
)

// MetricRepository persists computed incident metrics.
type MetricRepository interface {
	Upsert(ctx context.Context, metric *domain.IncidentMetric) error
	Delete(ctx context.Context, incidentID, name string) error
	ListByIncident(ctx context.Context, incidentID string) ([]domain.IncidentMetric, error)
}

type metricRepository struct {
	pool *pgxpool.Pool
}

// NewMetricRepository instantiates repository.
func NewMetricRepository(pool *pgxpool.Pool) MetricRepository {
	return &metricRepository{pool: pool}
}

func (r *metricRepository) Upsert(ctx context.Context, metric *domain.IncidentMetric) error {
	const query = `
        INSERT INTO incident_metrics (incident_id, name, duration_seconds)
        VALUES ($1,$2,$3)
        ON CONFLICT (incident_id, name)
        DO UPDATE SET duration_seconds=EXCLUDED.duration_seconds, updated_at=NOW()
        RETURNING id, updated_at`
	return r.pool.QueryRow(ctx, query,
		metric.IncidentID,
		metric.Name,
		metric.Duration.Seconds(),
	).Scan(&metric.ID, &metric.UpdatedAt)
}

func (r *metricRepository) Delete(ctx context.Context, incidentID, name string) error {
	const query = `DELETE FROM incident_metrics WHERE incident_id=$1 AND name=$2`
	_, err := r.pool.Exec(ctx, query, incidentID, name)
	return err
}

func (r *metricRepository) ListByIncident(ctx context.Context, incidentID string) ([]domain.IncidentMetric, error) {
	const query = `
        SELECT id, incident_id, name, duration_seconds, updated_at
        FROM incident_metrics WHERE incident_id=$1 ORDER BY name ASC`
	rows, err := r.pool.Query(ctx, query, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.IncidentMetric
	for rows.Next() {
		var metric domain.IncidentMetric
		var seconds float64
		if err := rows.Scan(
			&metric.ID,
			&metric.IncidentID,
			&metric.Name,
			&seconds,
			&metric.UpdatedAt,
		); err != nil {
			return nil, err
		}
		metric.Duration = time.Duration(seconds * float64(time.Second))
		result = append(result, metric)
	}
	return result, rows.Err()
}
