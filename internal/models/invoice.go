package models

import "time"

// Invoice status constants
const (
	InvoiceUnpaid    = "unpaid"
	InvoicePaid      = "paid"
	InvoiceCancelled = "cancelled"
)

// Invoice is a billing document for a service period. The orchestrator only
// creates renewal invoices and flips them to paid; payment collection itself
// happens in the payment gateways.
type Invoice struct {
	ID            string
	UserID        string
	ServiceID     *string
	InvoiceNumber string
	Amount        float64
	Status        string
	DueDate       time.Time
	Description   string
	CreatedAt     time.Time
	PaidAt        *time.Time
}

// ServiceEvent is an audit log entry for a lifecycle or provisioning action.
type ServiceEvent struct {
	ID        string
	ServiceID string
	Action    string
	Status    string
	Message   string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}
