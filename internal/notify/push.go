package notify

import (
	"context"
	"fmt"
	"strconv"

	"firebase.google.com/go/messaging"

	"microtrax/internal/currency"
	"microtrax/internal/models"
)

// MessageSender is the part of *messaging.Client the push notifier uses.
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// PushNotifier publishes outcomes to the FCM topic app_<app_id>.
type PushNotifier struct {
	client MessageSender
}

func NewPushNotifier(client MessageSender) *PushNotifier {
	return &PushNotifier{client: client}
}

func (p *PushNotifier) Name() string { return "push" }

func Topic(appID string) string {
	return "app_" + appID
}

func (p *PushNotifier) Notify(ctx context.Context, o models.PurchaseOutcome) error {
	_, err := p.client.Send(ctx, pushMessage(o))
	if err != nil {
		return fmt.Errorf("push: send: %w", err)
	}
	return nil
}

func pushMessage(o models.PurchaseOutcome) *messaging.Message {
	title := "Purchase completed"
	body := fmt.Sprintf("Order %s: %s", o.OrderID, currency.FormatAmount(o.Currency, o.Amount))
	if !o.Succeeded() {
		title = "Purchase failed"
		if o.Error != "" {
			body = fmt.Sprintf("Order %s: %s", o.OrderID, o.Error)
		}
	}
	return &messaging.Message{
		Topic: Topic(o.AppID),
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: map[string]string{
			"order_id": o.OrderID,
			"trans_id": o.TransID,
			"status":   string(o.Status),
			"amount":   strconv.FormatInt(o.Amount, 10),
			"currency": o.Currency,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority": "10",
			},
		},
	}
}
