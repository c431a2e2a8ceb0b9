package utils

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"

	"github.com/keighl/postmark"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"my-teddy/models"
)

// Message is one outgoing email
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer delivers a message through a provider
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// PostmarkMailer sends through the Postmark API
type PostmarkMailer struct {
	client *postmark.Client
	from   string
}

// NewPostmarkMailer creates a mailer for server token
func NewPostmarkMailer(token, from string) *PostmarkMailer {
	return &PostmarkMailer{client: postmark.NewClient(token, ""), from: from}
}

func (p *PostmarkMailer) Send(_ context.Context, m Message) error {
	res, err := p.client.SendEmail(postmark.Email{
		From:     p.from,
		To:       m.To,
		Subject:  m.Subject,
		HtmlBody: m.HTML,
		TextBody: m.Text,
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if res.ErrorCode != 0 {
		return fmt.Errorf("postmark rejected email: %d %s", res.ErrorCode, res.Message)
	}
	return nil
}

// SendGridMailer sends through the SendGrid v3 API
type SendGridMailer struct {
	client *sendgrid.Client
	from   *mail.Email
}

// NewSendGridMailer creates a mailer for api key
func NewSendGridMailer(key, from string) *SendGridMailer {
	return &SendGridMailer{client: sendgrid.NewSendClient(key), from: mail.NewEmail("My Teddy", from)}
}

func (s *SendGridMailer) Send(ctx context.Context, m Message) error {
	msg := mail.NewSingleEmail(s.from, m.Subject, mail.NewEmail("", m.To), m.Text, m.HTML)
	res, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid rejected email: %d %s", res.StatusCode, res.Body)
	}
	return nil
}

// LogMailer writes messages to the log instead of sending them
type LogMailer struct {
	Logger *zap.Logger
}

func (l LogMailer) Send(_ context.Context, m Message) error {
	l.Logger.Info("email", zap.String("to", m.To), zap.String("subject", m.Subject), zap.String("text", m.Text))
	return nil
}

// EmailService renders and sends the storefront emails
type EmailService struct {
	mailer  Mailer
	baseURL string
}

// NewEmailService returns a service linking back to baseURL
func NewEmailService(mailer Mailer, baseURL string) *EmailService {
	return &EmailService{mailer: mailer, baseURL: strings.TrimRight(baseURL, "/")}
}

// SendVerificationEmail sends an email verification link to the user
func (es *EmailService) SendVerificationEmail(ctx context.Context, toEmail, token string) error {
	link := es.baseURL + "/verify?token=" + url.QueryEscape(token)
	return es.mailer.Send(ctx, Message{
		To:      toEmail,
		Subject: "Verify Your Email",
		HTML: fmt.Sprintf(
			"<strong>Please verify your email by clicking on the following link:</strong> <a href=\"%s\">Verify Email</a>",
			html.EscapeString(link)),
		Text: "Please verify your email by opening this link: " + link,
	})
}

// SendOrderConfirmation sends the order summary to the user
func (es *EmailService) SendOrderConfirmation(ctx context.Context, toEmail string, order models.Order) error {
	var rows, lines strings.Builder
	for _, item := range order.Items {
		fmt.Fprintf(&rows, "<li>%s &times; %d: $%s</li>", html.EscapeString(item.Name), item.Quantity, item.Subtotal().StringFixed(2))
		fmt.Fprintf(&lines, "- %s x %d: $%s\n", item.Name, item.Quantity, item.Subtotal().StringFixed(2))
	}
	name := order.ShippingInfo.FirstName
	return es.mailer.Send(ctx, Message{
		To:      toEmail,
		Subject: "Order Confirmation",
		HTML: fmt.Sprintf(
			"<strong>Dear %s,</strong><br><br>Thank you for your purchase! Your order (ID: %s) has been placed successfully.<ul>%s</ul>Total Amount: <strong>$%s</strong><br><br>Thank you for shopping with us!",
			html.EscapeString(name), order.ID, rows.String(), order.Total.StringFixed(2)),
		Text: fmt.Sprintf(
			"Dear %s,\n\nThank you for your purchase! Your order (ID: %s) has been placed successfully.\n\n%s\nTotal Amount: $%s\n\nThank you for shopping with us!\n",
			name, order.ID, lines.String(), order.Total.StringFixed(2)),
	})
}
