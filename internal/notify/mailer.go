package notify

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"text/template"
	"time"

	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/config"
	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/models"
)

type message struct {
	subject string
	body    *template.Template
	// copyOperator sends a duplicate to the operator address so deployment
	// failures surface without waiting for a user report.
	copyOperator bool
}

var messages = map[string]message{
	KindCredentialsReady: {
		subject: "Your {{.PlanName}} Service is Ready",
		body: template.Must(template.New("ready").Parse(`Hello {{.UserName}},

Your {{.PlanName}} service has been activated!

Service Details:
- IP Address: {{if .IPAddress}}{{.IPAddress}}{{else}}pending assignment{{end}}
- Username: {{.Username}}
- Password: {{.Password}}
- Next Due Date: {{.NextDueDate}}

You can manage your service from your dashboard.

Best regards,
Hosting Team
`)),
	},
	KindDeployFailed: {
		subject: "Service Deployment Update - {{.PlanName}}",
		body: template.Must(template.New("failed").Parse(`Hello {{.UserName}},

We hit a snag while setting up your {{.PlanName}} service. Your payment has
been received and our team is on it; the service will show as suspended
until deployment completes.

No action is needed from you.

Best regards,
Hosting Team
`)),
		copyOperator: true,
	},
	KindRenewalReminder: {
		subject: "Service Renewal Due - {{.PlanName}}",
		body: template.Must(template.New("renewal").Parse(`Hello {{.UserName}},

Your {{.PlanName}} service is due for renewal.

Invoice: {{.Extra.invoice_number}}
Amount: ${{.Extra.amount}}
Due Date: {{.Extra.due_date}}

Please make payment to avoid service suspension.

Best regards,
Hosting Team
`)),
	},
	KindSuspended: {
		subject: "Service Suspended - {{.PlanName}}",
		body: template.Must(template.New("suspended").Parse(`Hello {{.UserName}},

Your {{.PlanName}} service has been suspended due to non-payment.

Please make payment immediately to reactivate your service.

Best regards,
Hosting Team
`)),
	},
}

type templateData struct {
	UserName    string
	PlanName    string
	IPAddress   string
	Username    string
	Password    string
	NextDueDate string
	Extra       map[string]string
}

// deliveryTimeout bounds the whole SMTP conversation. A stalled mail
// server must never hold up a lifecycle transition.
const deliveryTimeout = 10 * time.Second

// Mailer delivers notifications over SMTP.
type Mailer struct {
	host     string
	port     int
	from     string
	operator string
	timeout  time.Duration
}

// NewMailer builds a Dispatcher from SMTP config. When no SMTP host is
// configured it returns a dispatcher that only logs, so environments
// without mail still run every lifecycle path.
func NewMailer(cfg config.SMTPConfig) Dispatcher {
	if cfg.Host == "" {
		log.Printf("[notify] SMTP not configured, notifications will be logged only")
		return &logDispatcher{}
	}
	return &Mailer{
		host:     cfg.Host,
		port:     cfg.Port,
		from:     cfg.From,
		operator: cfg.OperatorEmail,
		timeout:  deliveryTimeout,
	}
}

// Send renders and delivers the message for the given kind.
func (m *Mailer) Send(ctx context.Context, kind string, service *models.Service, extra map[string]string) error {
	msg, ok := messages[kind]
	if !ok {
		return fmt.Errorf("unknown notification kind %q", kind)
	}

	data := templateData{
		UserName:    service.UserName,
		PlanName:    service.PlanName,
		Username:    service.Username,
		Password:    service.Password,
		NextDueDate: service.NextDueDate.Format("2006-01-02"),
		Extra:       extra,
	}
	if service.IPAddress != nil {
		data.IPAddress = *service.IPAddress
	}

	subject, body, err := render(msg, data)
	if err != nil {
		return err
	}

	recipients := []string{service.UserEmail}
	if msg.copyOperator && m.operator != "" {
		recipients = append(recipients, m.operator)
	}

	for _, to := range recipients {
		if err := m.deliver(ctx, to, subject, body); err != nil {
			return fmt.Errorf("send %s to %s: %w", kind, to, err)
		}
	}

	log.Printf("[notify] Sent %s for service %s", kind, service.ID)
	return nil
}

func render(msg message, data templateData) (string, string, error) {
	subjTmpl, err := template.New("subject").Parse(msg.subject)
	if err != nil {
		return "", "", fmt.Errorf("parse subject: %w", err)
	}

	var subject, body bytes.Buffer
	if err := subjTmpl.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	if err := msg.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return subject.String(), body.String(), nil
}

// deliver runs one SMTP conversation under a hard deadline. smtp.SendMail
// sets no timeouts at all, so the connection is dialed and deadlined
// explicitly.
func (m *Mailer) deliver(ctx context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	raw := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nDate: %s\r\n\r\n%s",
		m.from, to, subject, time.Now().Format(time.RFC1123Z), body)

	dialer := &net.Dialer{Timeout: m.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	deadline := time.Now().Add(m.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return fmt.Errorf("set deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, m.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer client.Close()

	if err := client.Mail(m.from); err != nil {
		return fmt.Errorf("smtp mail: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write([]byte(raw)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}

	return client.Quit()
}

// logDispatcher is the stand-in when SMTP is not configured.
type logDispatcher struct{}

func (d *logDispatcher) Send(_ context.Context, kind string, service *models.Service, _ map[string]string) error {
	log.Printf("[notify] (dry-run) %s for service %s to %s", kind, service.ID, service.UserEmail)
	return nil
}
