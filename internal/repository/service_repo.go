package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/models"
)

var ErrNotFound = errors.New("not found")

const serviceColumns = `
	s.id, s.user_id, s.plan_id, s.status, s.billing_cycle, s.price, s.next_due_date,
	s.domain, s.guest_id, s.ip_address, s.username, s.password,
	s.created_at, s.activated_at, s.suspended_at, s.terminated_at,
	u.username, u.email, p.name, p.cpu_cores, p.ram_mb, p.disk_gb, p.bandwidth_gb`

const serviceFrom = `
	FROM hosting.services s
	JOIN hosting.users u ON u.id = s.user_id
	JOIN hosting.plans p ON p.id = s.plan_id`

type ServiceRepository struct {
	pool *pgxpool.Pool
}

func NewServiceRepository(pool *pgxpool.Pool) *ServiceRepository {
	return &ServiceRepository{pool: pool}
}

// GetByID retrieves a service with its owner and plan details.
func (r *ServiceRepository) GetByID(ctx context.Context, id string) (*models.Service, error) {
	query := `SELECT` + serviceColumns + serviceFrom + ` WHERE s.id = $1`
	return r.scanService(r.pool.QueryRow(ctx, query, id))
}

// GetByUserID retrieves all non-terminated services for a user.
func (r *ServiceRepository) GetByUserID(ctx context.Context, userID string) ([]*models.Service, error) {
	query := `SELECT` + serviceColumns + serviceFrom + `
		WHERE s.user_id = $1 AND s.status != 'terminated'
		ORDER BY s.created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query services: %w", err)
	}
	defer rows.Close()

	return r.scanServices(rows)
}

// ListDueBefore retrieves active services whose next due date falls before
// the cutoff. Used by the daily renewal sweep.
func (r *ServiceRepository) ListDueBefore(ctx context.Context, cutoff time.Time) ([]*models.Service, error) {
	query := `SELECT` + serviceColumns + serviceFrom + `
		WHERE s.status = 'active' AND s.next_due_date <= $1
		ORDER BY s.next_due_date ASC`

	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query due services: %w", err)
	}
	defer rows.Close()

	return r.scanServices(rows)
}

// ListSuspendedBefore retrieves services suspended on or before the cutoff.
// Used by the termination sweep.
func (r *ServiceRepository) ListSuspendedBefore(ctx context.Context, cutoff time.Time) ([]*models.Service, error) {
	query := `SELECT` + serviceColumns + serviceFrom + `
		WHERE s.status = 'suspended' AND s.suspended_at <= $1
		ORDER BY s.suspended_at ASC`

	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query suspended services: %w", err)
	}
	defer rows.Close()

	return r.scanServices(rows)
}

// Update persists the mutable orchestrator-owned fields of a service.
func (r *ServiceRepository) Update(ctx context.Context, svc *models.Service) error {
	query := `
		UPDATE hosting.services SET
			status = $1,
			next_due_date = $2,
			guest_id = $3,
			ip_address = $4,
			username = $5,
			password = $6,
			activated_at = $7,
			suspended_at = $8,
			terminated_at = $9
		WHERE id = $10
	`

	_, err := r.pool.Exec(ctx, query,
		svc.Status, svc.NextDueDate, svc.GuestID, svc.IPAddress,
		svc.Username, svc.Password,
		svc.ActivatedAt, svc.SuspendedAt, svc.TerminatedAt, svc.ID,
	)
	if err != nil {
		return fmt.Errorf("update service: %w", err)
	}

	return nil
}

func (r *ServiceRepository) scanService(row pgx.Row) (*models.Service, error) {
	svc := &models.Service{}
	err := row.Scan(
		&svc.ID, &svc.UserID, &svc.PlanID, &svc.Status, &svc.BillingCycle, &svc.Price, &svc.NextDueDate,
		&svc.Domain, &svc.GuestID, &svc.IPAddress, &svc.Username, &svc.Password,
		&svc.CreatedAt, &svc.ActivatedAt, &svc.SuspendedAt, &svc.TerminatedAt,
		&svc.UserName, &svc.UserEmail, &svc.PlanName, &svc.CPUCores, &svc.RAMMB, &svc.DiskGB, &svc.BandwidthGB,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan service: %w", err)
	}
	return svc, nil
}

func (r *ServiceRepository) scanServices(rows pgx.Rows) ([]*models.Service, error) {
	var services []*models.Service
	for rows.Next() {
		svc := &models.Service{}
		err := rows.Scan(
			&svc.ID, &svc.UserID, &svc.PlanID, &svc.Status, &svc.BillingCycle, &svc.Price, &svc.NextDueDate,
			&svc.Domain, &svc.GuestID, &svc.IPAddress, &svc.Username, &svc.Password,
			&svc.CreatedAt, &svc.ActivatedAt, &svc.SuspendedAt, &svc.TerminatedAt,
			&svc.UserName, &svc.UserEmail, &svc.PlanName, &svc.CPUCores, &svc.RAMMB, &svc.DiskGB, &svc.BandwidthGB,
		)
		if err != nil {
			return nil, fmt.Errorf("scan service row: %w", err)
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}
