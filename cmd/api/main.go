package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/client"
	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/config"
	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/db"
	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/http"
	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/notify"
	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/repository"
	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/service"
)

func main() {
	log.Println("Starting Orchestrator Service...")

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize database
	pool, err := db.NewPool(cfg.Database.DSN(), cfg.Database.Schema)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// Initialize repositories
	serviceRepo := repository.NewServiceRepository(pool)
	invoiceRepo := repository.NewInvoiceRepository(pool)
	eventRepo := repository.NewEventRepository(pool)

	// Initialize hypervisor client. A missing Proxmox config is permanent:
	// refuse to start rather than run an orchestrator that cannot provision.
	proxmox, err := client.NewProxmoxClient(cfg.Proxmox)
	if err != nil {
		if errors.Is(err, client.ErrNotConfigured) {
			log.Fatalf("Proxmox is not configured (set PROXMOX_HOST/PROXMOX_USER/PROXMOX_PASSWORD)")
		}
		log.Fatalf("Failed to connect to Proxmox: %v", err)
	}

	// Initialize notification dispatcher
	notifier := notify.NewMailer(cfg.SMTP)

	// Initialize services
	engine := service.NewProvisionEngine(proxmox)
	lifecycle := service.NewLifecycleService(
		serviceRepo,
		eventRepo,
		engine,
		proxmox,
		notifier,
		cfg.Proxmox.TemplateID,
	)
	renewal := service.NewRenewalService(serviceRepo, invoiceRepo, lifecycle, notifier)

	// Initialize HTTP server
	handler := http.NewHandler(lifecycle, renewal, invoiceRepo, eventRepo)
	server := http.NewServer(cfg, handler)

	// Start server in goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		log.Printf("Server starting on %s", addr)
		if err := server.Run(addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	log.Println("Server exited")
}
