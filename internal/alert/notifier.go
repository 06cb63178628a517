package alert

import "context"

// BusNotifier hands transitions to the external notification service
// over the event bus; actual email/webhook delivery happens there.
type BusNotifier struct {
	Publisher interface {
		Publish(subject string, payload any) error
	}
	Subject string
}

func (n *BusNotifier) Notify(ctx context.Context, notification Notification) error {
	subject := n.Subject
	if subject == "" {
		subject = "notify.alert"
	}
	return n.Publisher.Publish(subject, notification)
}
