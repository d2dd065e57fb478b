// Package email delivers digests through SendGrid.
package email

import (
	"context"
	"fmt"
	"html"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"slackdigest/internal/digest"
	"slackdigest/internal/report"
)

const senderName = "Slack Digest"

type sender interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

// Deliverer emails the plain-text digest to a fixed recipient list.
type Deliverer struct {
	apiKey     string
	from       string
	recipients []string
	client     sender
}

func NewDeliverer(apiKey, from string, recipients []string) *Deliverer {
	d := &Deliverer{apiKey: apiKey, from: from, recipients: recipients}
	if apiKey != "" {
		d.client = sendgrid.NewSendClient(apiKey)
	}
	return d
}

func (d *Deliverer) Name() string { return "email" }

func (d *Deliverer) Deliver(ctx context.Context, del digest.Delivery) error {
	if d.apiKey == "" || d.client == nil {
		return fmt.Errorf("SendGrid API key not configured")
	}
	if len(d.recipients) == 0 {
		return fmt.Errorf("no email recipients configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	response, err := d.client.Send(d.buildMessage(del))
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("SendGrid API error: status %d, body: %s", response.StatusCode, response.Body)
	}
	return nil
}

func (d *Deliverer) buildMessage(del digest.Delivery) *mail.SGMailV3 {
	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail(senderName, d.from))
	message.Subject = Subject(del)

	p := mail.NewPersonalization()
	for _, addr := range d.recipients {
		p.AddTos(mail.NewEmail("", addr))
	}
	message.AddPersonalizations(p)
	message.AddContent(
		mail.NewContent("text/plain", del.Content),
		mail.NewContent("text/html", "<pre>"+html.EscapeString(del.Content)+"</pre>"),
	)
	return message
}

// Subject is "<title> - #channel (Jan 02 - Jan 09, 2006)".
func Subject(del digest.Delivery) string {
	title := del.Title
	if title == "" {
		title = report.DefaultTitle
	}
	channel := del.Channel.Name
	if channel == "" {
		channel = del.Channel.ID
	}
	return fmt.Sprintf("%s - #%s (%s - %s)", title, channel,
		del.Range.Start.Format("Jan 02"), del.Range.End.Format("Jan 02, 2006"))
}
