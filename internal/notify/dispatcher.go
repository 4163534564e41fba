package notify

import (
	"context"

	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/models"
)

// Notification kinds dispatched by the orchestrator.
const (
	KindCredentialsReady = "credentials_ready"
	KindDeployFailed     = "deploy_failed"
	KindRenewalReminder  = "renewal_reminder"
	KindSuspended        = "suspended"
)

// Dispatcher sends a templated message for a lifecycle event. Callers treat
// it as fire-and-forget: a delivery error is logged, never propagated into
// a state transition.
type Dispatcher interface {
	Send(ctx context.Context, kind string, service *models.Service, extra map[string]string) error
}
