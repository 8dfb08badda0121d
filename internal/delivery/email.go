package delivery

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/kestrelops/cloudbill/pkg/config"
	pkgerrors "github.com/kestrelops/cloudbill/pkg/errors"
	"github.com/kestrelops/cloudbill/pkg/logger"
)

var (
	// ErrMissingLogger is returned when a deliverer is built without a logger.
	ErrMissingLogger = errors.New("delivery: logger is required")
	// ErrIncompleteMailConfig is returned when email delivery is requested
	// without a key, sender, or recipients.
	ErrIncompleteMailConfig = errors.New("delivery: sendgrid api key, sender, and recipients are required")
)

const (
	mailSendEndpoint = "/v3/mail/send"
	defaultSubject   = "Invoice Analysis Report"

	// The attachment type the downstream distribution list expects.
	attachmentType = "application/xlsx"
	windowLayout   = "01/02/2006"
)

// Mailer emails report workbooks through SendGrid.
type Mailer struct {
	apiKey  string
	host    string
	from    string
	to      []string
	subject string
	logger  *logger.Logger
}

// NewMailer validates the configuration and builds a mailer.
func NewMailer(ctx context.Context, cfg config.SendgridConfig, logg *logger.Logger) (*Mailer, error) {
	if logg == nil {
		return nil, ErrMissingLogger
	}
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.From) == "" || len(cfg.To) == 0 {
		return nil, ErrIncompleteMailConfig
	}

	subject := strings.TrimSpace(cfg.Subject)
	if subject == "" {
		subject = defaultSubject
	}

	mailer := &Mailer{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		from:    strings.TrimSpace(cfg.From),
		to:      cfg.To,
		subject: subject,
		logger:  logg,
	}
	mailer.log(ctx, "init", "new_mailer", map[string]any{
		"recipients": len(mailer.to),
	})
	return mailer, nil
}

// SendReport emails the report file as an attachment. The body names the
// invoice window the workbook covers.
func (m *Mailer) SendReport(ctx context.Context, path string, windowStart, windowEnd time.Time) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read report file")
	}

	message := m.buildMessage(filepath.Base(path), data, windowStart, windowEnd)

	request := sendgrid.GetRequest(m.apiKey, mailSendEndpoint, m.host)
	request.Method = http.MethodPost
	request.Body = mail.GetRequestBody(message)

	m.log(ctx, "request", "send_report", map[string]any{
		"attachment": filepath.Base(path),
		"recipients": len(m.to),
	})

	response, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDelivery, err, "send report email")
	}
	if response.StatusCode >= http.StatusMultipleChoices {
		err := fmt.Errorf("status %d: %s", response.StatusCode, strings.TrimSpace(response.Body))
		return pkgerrors.Wrap(pkgerrors.CodeDelivery, err, "mail service rejected message")
	}

	m.log(ctx, "response", "send_report", map[string]any{
		"status": response.StatusCode,
	})
	return nil
}

func (m *Mailer) buildMessage(filename string, data []byte, windowStart, windowEnd time.Time) *mail.SGMailV3 {
	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail("", m.from))
	message.Subject = m.subject

	personalization := mail.NewPersonalization()
	for _, recipient := range m.to {
		personalization.AddTos(mail.NewEmail("", recipient))
	}
	message.AddPersonalizations(personalization)

	body := fmt.Sprintf("<p><b>Invoice Analysis Output Attached for %s to %s </b></br></p>",
		windowStart.Format(windowLayout), windowEnd.Format(windowLayout))
	message.AddContent(mail.NewContent("text/html", body))

	attachment := mail.NewAttachment()
	attachment.SetContent(base64.StdEncoding.EncodeToString(data))
	attachment.SetType(attachmentType)
	attachment.SetFilename(filename)
	attachment.SetDisposition("attachment")
	attachment.SetContentID("invoice-analysis")
	message.AddAttachment(attachment)
	return message
}

func (m *Mailer) log(ctx context.Context, phase, operation string, fields map[string]any) {
	if m.logger == nil {
		return
	}
	merged := map[string]any{
		"component": "delivery",
		"phase":     phase,
		"operation": operation,
	}
	for key, value := range fields {
		merged[key] = value
	}
	m.logger.Info(m.logger.WithFields(ctx, merged), "report delivery")
}
