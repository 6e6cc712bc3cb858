package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ses"

	"microtrax/internal/currency"
	"microtrax/internal/models"
)

// EmailSender is the part of *ses.SES the email notifier uses.
type EmailSender interface {
	SendEmailWithContext(ctx aws.Context, input *ses.SendEmailInput, opts ...request.Option) (*ses.SendEmailOutput, error)
}

// EmailNotifier mails a plain-text summary of each outcome.
type EmailNotifier struct {
	client     EmailSender
	from       string
	recipients []string
	failedOnly bool
}

func NewEmailNotifier(client EmailSender, from string, recipients []string, failedOnly bool) (*EmailNotifier, error) {
	if client == nil {
		return nil, errors.New("email: ses client is required")
	}
	if strings.TrimSpace(from) == "" {
		return nil, errors.New("email: sender address is required")
	}
	if len(recipients) == 0 {
		return nil, errors.New("email: at least one recipient is required")
	}
	return &EmailNotifier{client: client, from: from, recipients: recipients, failedOnly: failedOnly}, nil
}

func (e *EmailNotifier) Name() string { return "email" }

func (e *EmailNotifier) Notify(ctx context.Context, o models.PurchaseOutcome) error {
	if e.failedOnly && o.Succeeded() {
		return nil
	}
	subject, text := emailContent(o)
	_, err := e.client.SendEmailWithContext(ctx, &ses.SendEmailInput{
		Source:      aws.String(e.from),
		Destination: &ses.Destination{ToAddresses: aws.StringSlice(e.recipients)},
		Message: &ses.Message{
			Subject: &ses.Content{Charset: aws.String("UTF-8"), Data: aws.String(subject)},
			Body: &ses.Body{
				Text: &ses.Content{Charset: aws.String("UTF-8"), Data: aws.String(text)},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("email: send: %w", err)
	}
	return nil
}

func emailContent(o models.PurchaseOutcome) (string, string) {
	subject := fmt.Sprintf("[microtrax] order %s %s", o.OrderID, o.Status)
	var b strings.Builder
	fmt.Fprintf(&b, "App:      %s\n", o.AppID)
	fmt.Fprintf(&b, "Order:    %s\n", o.OrderID)
	if o.TransID != "" {
		fmt.Fprintf(&b, "Trans:    %s\n", o.TransID)
	}
	fmt.Fprintf(&b, "Status:   %s\n", o.Status)
	fmt.Fprintf(&b, "Amount:   %s\n", currency.FormatAmount(o.Currency, o.Amount))
	if o.Error != "" {
		fmt.Fprintf(&b, "Error:    %s\n", o.Error)
	}
	fmt.Fprintf(&b, "Time:     %s\n", o.OccurredAt.UTC().Format("2006-01-02 15:04:05 MST"))
	return subject, b.String()
}
