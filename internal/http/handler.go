package http

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/models"
	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/repository"
	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/service"
)

type Handler struct {
	lifecycle *service.LifecycleService
	renewal   *service.RenewalService
	invoices  *repository.InvoiceRepository
	events    *repository.EventRepository
}

func NewHandler(
	lifecycle *service.LifecycleService,
	renewal *service.RenewalService,
	invoices *repository.InvoiceRepository,
	events *repository.EventRepository,
) *Handler {
	return &Handler{
		lifecycle: lifecycle,
		renewal:   renewal,
		invoices:  invoices,
		events:    events,
	}
}

// ==================== Internal API Handlers ====================

// ActivateService starts deployment (or reactivation) of a service after a
// payment confirmation. Provisioning takes minutes, so it runs in the
// background and the caller gets an accepted response immediately.
func (h *Handler) ActivateService(c *gin.Context) {
	serviceID := c.Param("id")
	if serviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "service id required"})
		return
	}

	go func() {
		if err := h.lifecycle.Activate(context.Background(), serviceID); err != nil {
			log.Printf("[API] Activation of service %s did not complete: %v", serviceID, err)
		}
	}()

	c.JSON(http.StatusAccepted, models.TransitionResponse{
		ServiceID: serviceID,
		Status:    "deploying",
		Message:   "Activation started. This may take a few minutes.",
	})
}

// SuspendService stops a service's guest and suspends it.
func (h *Handler) SuspendService(c *gin.Context) {
	serviceID := c.Param("id")
	if err := h.lifecycle.Suspend(c.Request.Context(), serviceID); err != nil {
		h.transitionError(c, serviceID, err)
		return
	}

	c.JSON(http.StatusOK, models.TransitionResponse{
		ServiceID: serviceID,
		Status:    models.StatusSuspended,
		Message:   "Service suspended",
	})
}

// TerminateService deletes a service's guest and terminates it.
func (h *Handler) TerminateService(c *gin.Context) {
	serviceID := c.Param("id")
	if err := h.lifecycle.Terminate(c.Request.Context(), serviceID); err != nil {
		h.transitionError(c, serviceID, err)
		return
	}

	c.JSON(http.StatusOK, models.TransitionResponse{
		ServiceID: serviceID,
		Status:    models.StatusTerminated,
		Message:   "Service terminated",
	})
}

// GetServiceStatus returns the orchestrator view of one service.
func (h *Handler) GetServiceStatus(c *gin.Context) {
	resp, err := h.lifecycle.GetServiceStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "service not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetServiceEvents returns the lifecycle audit trail for a service.
func (h *Handler) GetServiceEvents(c *gin.Context) {
	events, err := h.events.GetByServiceID(c.Request.Context(), c.Param("id"), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// InvoicePaid records a gateway payment confirmation and routes it to the
// matching lifecycle transition.
func (h *Handler) InvoicePaid(c *gin.Context) {
	invoiceID := c.Param("id")

	var req models.InvoicePaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	invoice, err := h.invoices.MarkPaid(c.Request.Context(), invoiceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found or already paid"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Printf("[API] Invoice %s paid via %s (tx %s)", invoice.InvoiceNumber, req.PaymentMethod, req.TransactionID)

	go func() {
		if err := h.lifecycle.HandlePaidInvoice(context.Background(), invoice); err != nil {
			log.Printf("[API] Post-payment processing for invoice %s did not complete: %v", invoice.InvoiceNumber, err)
		}
	}()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Payment recorded. Your service is being processed.",
	})
}

// RunRenewalSweep is the daily cron trigger.
func (h *Handler) RunRenewalSweep(c *gin.Context) {
	result, err := h.renewal.RunRenewalSweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// RunTerminationSweep is the 6-hourly cron trigger.
func (h *Handler) RunTerminationSweep(c *gin.Context) {
	result, err := h.renewal.RunTerminationSweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// ==================== User API Handlers ====================

// GetMyServices lists the authenticated user's services.
func (h *Handler) GetMyServices(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	resp, err := h.lifecycle.GetUserServices(c.Request.Context(), userID.(string))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetMyService returns one of the authenticated user's services.
func (h *Handler) GetMyService(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	resp, err := h.lifecycle.GetUserServices(c.Request.Context(), userID.(string))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	serviceID := c.Param("id")
	for _, svc := range resp.Services {
		if svc.ServiceID == serviceID {
			c.JSON(http.StatusOK, svc)
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "service not found"})
}

func (h *Handler) transitionError(c *gin.Context, serviceID string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "service not found"})
	default:
		log.Printf("[API] Transition failed for service %s: %v", serviceID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
