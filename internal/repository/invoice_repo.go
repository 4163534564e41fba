package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/models"
)

type InvoiceRepository struct {
	pool *pgxpool.Pool
}

func NewInvoiceRepository(pool *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{pool: pool}
}

// CreateRenewal creates an unpaid renewal invoice for a service period.
func (r *InvoiceRepository) CreateRenewal(ctx context.Context, svc *models.Service) (*models.Invoice, error) {
	invoice := &models.Invoice{
		ID:            uuid.New().String(),
		UserID:        svc.UserID,
		ServiceID:     &svc.ID,
		InvoiceNumber: newInvoiceNumber(),
		Amount:        svc.Price,
		Status:        models.InvoiceUnpaid,
		DueDate:       svc.NextDueDate,
		Description:   fmt.Sprintf("Renewal for %s", svc.PlanName),
		CreatedAt:     time.Now(),
	}

	query := `
		INSERT INTO hosting.invoices (id, user_id, service_id, invoice_number, amount, status, due_date, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.pool.Exec(ctx, query,
		invoice.ID, invoice.UserID, invoice.ServiceID, invoice.InvoiceNumber,
		invoice.Amount, invoice.Status, invoice.DueDate, invoice.Description, invoice.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert invoice: %w", err)
	}

	return invoice, nil
}

// GetByID retrieves an invoice.
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*models.Invoice, error) {
	query := `
		SELECT id, user_id, service_id, invoice_number, amount, status, due_date, description, created_at, paid_at
		FROM hosting.invoices
		WHERE id = $1
	`

	invoice := &models.Invoice{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&invoice.ID, &invoice.UserID, &invoice.ServiceID, &invoice.InvoiceNumber,
		&invoice.Amount, &invoice.Status, &invoice.DueDate, &invoice.Description,
		&invoice.CreatedAt, &invoice.PaidAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan invoice: %w", err)
	}
	return invoice, nil
}

// MarkPaid flips an unpaid invoice to paid and returns it. Paying an
// already-paid invoice returns ErrNotFound so gateway retries stay
// harmless.
func (r *InvoiceRepository) MarkPaid(ctx context.Context, id string) (*models.Invoice, error) {
	query := `
		UPDATE hosting.invoices
		SET status = 'paid', paid_at = NOW()
		WHERE id = $1 AND status = 'unpaid'
		RETURNING id, user_id, service_id, invoice_number, amount, status, due_date, description, created_at, paid_at
	`

	invoice := &models.Invoice{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&invoice.ID, &invoice.UserID, &invoice.ServiceID, &invoice.InvoiceNumber,
		&invoice.Amount, &invoice.Status, &invoice.DueDate, &invoice.Description,
		&invoice.CreatedAt, &invoice.PaidAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mark invoice paid: %w", err)
	}
	return invoice, nil
}

// OpenRenewal returns the service's unpaid renewal invoice, or nil when
// there is none. Repeated sweeps reuse it for the reminder instead of
// double-billing.
func (r *InvoiceRepository) OpenRenewal(ctx context.Context, serviceID string) (*models.Invoice, error) {
	query := `
		SELECT id, user_id, service_id, invoice_number, amount, status, due_date, description, created_at, paid_at
		FROM hosting.invoices
		WHERE service_id = $1 AND status = 'unpaid'
		ORDER BY created_at DESC
		LIMIT 1
	`

	invoice := &models.Invoice{}
	err := r.pool.QueryRow(ctx, query, serviceID).Scan(
		&invoice.ID, &invoice.UserID, &invoice.ServiceID, &invoice.InvoiceNumber,
		&invoice.Amount, &invoice.Status, &invoice.DueDate, &invoice.Description,
		&invoice.CreatedAt, &invoice.PaidAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan open invoice: %w", err)
	}
	return invoice, nil
}

func newInvoiceNumber() string {
	return "INV-" + strings.ToUpper(uuid.New().String()[:8])
}
