package models

import "time"

// ==================== Internal API DTOs ====================

// TransitionResponse is returned by the lifecycle endpoints.
type TransitionResponse struct {
	ServiceID string `json:"service_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// SweepResult summarises one scheduler sweep for the cron trigger.
type SweepResult struct {
	Matched    int `json:"matched"`
	Invoiced   int `json:"invoiced"`
	Notified   int `json:"notified"`
	Suspended  int `json:"suspended"`
	Terminated int `json:"terminated"`
	Failed     int `json:"failed"`
}

// InvoicePaidRequest marks an invoice paid after gateway confirmation.
type InvoicePaidRequest struct {
	TransactionID string `json:"transaction_id"`
	PaymentMethod string `json:"payment_method"`
}

// ==================== User API DTOs ====================

// ServiceStatusResponse is the user-facing view of a service. The login
// secret is only included while the service is active.
type ServiceStatusResponse struct {
	ServiceID    string  `json:"service_id"`
	PlanName     string  `json:"plan_name"`
	Status       string  `json:"status"`
	BillingCycle string  `json:"billing_cycle"`
	Price        float64 `json:"price"`
	NextDueDate  string  `json:"next_due_date"`
	IPAddress    *string `json:"ip_address,omitempty"`
	Username     string  `json:"username,omitempty"`
	Password     string  `json:"password,omitempty"`
	GuestStatus  string  `json:"guest_status,omitempty"`
	CPUCores     int     `json:"cpu_cores"`
	RAMMB        int     `json:"ram_mb"`
	DiskGB       int     `json:"disk_gb"`
	BandwidthGB  int     `json:"bandwidth_gb"`
	CreatedAt    string  `json:"created_at"`
	ActivatedAt  *string `json:"activated_at,omitempty"`
	SuspendedAt  *string `json:"suspended_at,omitempty"`
}

// ServiceListResponse wraps the user's services.
type ServiceListResponse struct {
	Services []*ServiceStatusResponse `json:"services"`
}

// FormatTimePtr renders an optional timestamp as RFC3339 for API responses.
func FormatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
