package notify

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/config"
	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/models"
)

func sampleService() *models.Service {
	ip := "10.0.0.50"
	return &models.Service{
		ID:          "svc-1",
		Status:      models.StatusActive,
		NextDueDate: time.Date(2026, 4, 9, 0, 0, 0, 0, time.UTC),
		IPAddress:   &ip,
		Username:    "root",
		Password:    "s3cret-pw",
		UserName:    "alice",
		UserEmail:   "alice@example.com",
		PlanName:    "Starter",
	}
}

func dataFor(svc *models.Service, extra map[string]string) templateData {
	data := templateData{
		UserName:    svc.UserName,
		PlanName:    svc.PlanName,
		Username:    svc.Username,
		Password:    svc.Password,
		NextDueDate: svc.NextDueDate.Format("2006-01-02"),
		Extra:       extra,
	}
	if svc.IPAddress != nil {
		data.IPAddress = *svc.IPAddress
	}
	return data
}

func TestCredentialsReadyMessage(t *testing.T) {
	subject, body, err := render(messages[KindCredentialsReady], dataFor(sampleService(), nil))
	require.NoError(t, err)

	assert.Equal(t, "Your Starter Service is Ready", subject)
	assert.Contains(t, body, "Hello alice")
	assert.Contains(t, body, "IP Address: 10.0.0.50")
	assert.Contains(t, body, "Username: root")
	assert.Contains(t, body, "Password: s3cret-pw")
	assert.Contains(t, body, "Next Due Date: 2026-04-09")
}

func TestCredentialsReadyMessageWithoutIP(t *testing.T) {
	svc := sampleService()
	svc.IPAddress = nil

	_, body, err := render(messages[KindCredentialsReady], dataFor(svc, nil))
	require.NoError(t, err)
	assert.Contains(t, body, "IP Address: pending assignment")
}

func TestRenewalReminderMessage(t *testing.T) {
	extra := map[string]string{
		"invoice_number": "INV-A1B2C3D4",
		"amount":         "9.99",
		"due_date":       "2026-04-09",
	}

	subject, body, err := render(messages[KindRenewalReminder], dataFor(sampleService(), extra))
	require.NoError(t, err)

	assert.Equal(t, "Service Renewal Due - Starter", subject)
	assert.Contains(t, body, "Invoice: INV-A1B2C3D4")
	assert.Contains(t, body, "Amount: $9.99")
	assert.Contains(t, body, "Due Date: 2026-04-09")
}

func TestDeployFailedMessageCopiesOperator(t *testing.T) {
	msg := messages[KindDeployFailed]
	assert.True(t, msg.copyOperator)

	_, body, err := render(msg, dataFor(sampleService(), nil))
	require.NoError(t, err)
	assert.Contains(t, body, "payment has\nbeen received")
	assert.NotContains(t, body, "s3cret-pw", "failure mail must not leak credentials")
}

func TestSuspendedMessage(t *testing.T) {
	subject, body, err := render(messages[KindSuspended], dataFor(sampleService(), nil))
	require.NoError(t, err)
	assert.Equal(t, "Service Suspended - Starter", subject)
	assert.Contains(t, body, "suspended due to non-payment")
}

func TestNewMailerWithoutHostIsDryRun(t *testing.T) {
	dispatcher := NewMailer(config.SMTPConfig{})
	require.IsType(t, &logDispatcher{}, dispatcher)

	err := dispatcher.Send(context.Background(), KindSuspended, sampleService(), nil)
	assert.NoError(t, err)
}

func TestSendFailsFastWhenServerStalls(t *testing.T) {
	// Accepts connections but never sends the SMTP greeting.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	mailer := &Mailer{
		host:    "127.0.0.1",
		port:    listener.Addr().(*net.TCPAddr).Port,
		from:    "noreply@example.com",
		timeout: 200 * time.Millisecond,
	}

	start := time.Now()
	err = mailer.Send(context.Background(), KindSuspended, sampleService(), nil)
	assert.Error(t, err, "a stalled server must surface a delivery error")
	assert.Less(t, time.Since(start), 2*time.Second,
		"delivery must time out instead of blocking the transition")
}

func TestMailerRejectsUnknownKind(t *testing.T) {
	mailer := &Mailer{host: "smtp.example.com", port: 25, from: "noreply@example.com"}
	err := mailer.Send(context.Background(), "no-such-kind", sampleService(), nil)
	assert.Error(t, err)
}
