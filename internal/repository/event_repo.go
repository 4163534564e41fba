package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/models"
)

// EventRepository records the lifecycle audit trail for services.
type EventRepository struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// Create appends a service event.
func (r *EventRepository) Create(ctx context.Context, event *models.ServiceEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	query := `
		INSERT INTO hosting.service_events (id, service_id, action, status, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		event.ID, event.ServiceID, event.Action, event.Status, event.Message, event.Metadata,
	)
	if err != nil {
		return fmt.Errorf("insert service event: %w", err)
	}

	return nil
}

// GetByServiceID retrieves recent events for a service, newest first.
func (r *EventRepository) GetByServiceID(ctx context.Context, serviceID string, limit int) ([]*models.ServiceEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, service_id, action, status, message, metadata, created_at
		FROM hosting.service_events
		WHERE service_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, serviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query service events: %w", err)
	}
	defer rows.Close()

	var events []*models.ServiceEvent
	for rows.Next() {
		event := &models.ServiceEvent{}
		err := rows.Scan(
			&event.ID, &event.ServiceID, &event.Action, &event.Status,
			&event.Message, &event.Metadata, &event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan service event: %w", err)
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// LogAction is a helper to append an event without building the struct.
func (r *EventRepository) LogAction(ctx context.Context, serviceID, action, status, message string) error {
	return r.Create(ctx, &models.ServiceEvent{
		ServiceID: serviceID,
		Action:    action,
		Status:    status,
		Message:   message,
	})
}
