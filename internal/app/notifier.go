/**
 * @description
 * Outbound notifications: SMS through the gateway, operator email and domain events on
 * RabbitMQ. Every method here is best effort. Failures are logged and returned but never
 * roll back the state change that triggered them.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zestyping/blockpower-be-sub000/internal/domain"
)

// SMSSender sends a text message to an E.164 phone number.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
}

// EventPublisher publishes a JSON event to an exchange.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// EmailSender delivers an email to a list of recipients.
type EmailSender interface {
	Send(to []string, subject, body string) error
}

// Notifier fans confirmation and payout outcomes out to operators and the event bus.
type Notifier struct {
	sms            SMSSender
	events         EventPublisher
	mail           EmailSender
	operatorEmails []string
	currency       string
	logger         *slog.Logger
}

// NewNotifier creates a Notifier. A nil mail sender or empty operator list disables email.
func NewNotifier(sms SMSSender, events EventPublisher, mail EmailSender, operatorEmails []string, currency string, logger *slog.Logger) *Notifier {
	return &Notifier{
		sms:            sms,
		events:         events,
		mail:           mail,
		operatorEmails: operatorEmails,
		currency:       currency,
		logger:         logger,
	}
}

// SendSMS sends a message and logs the outcome.
func (n *Notifier) SendSMS(ctx context.Context, to, body string) error {
	if n == nil || n.sms == nil {
		return errors.New("sms gateway not configured")
	}
	sid, err := n.sms.SendSMS(ctx, to, body)
	if err != nil {
		n.logger.Error("failed to send sms", "to", to, "error", err)
		return err
	}
	n.logger.Debug("sms sent", "to", to, "sid", sid)
	return nil
}

// TriplerConfirmed emails operators and publishes the confirmation event.
func (n *Notifier) TriplerConfirmed(ctx context.Context, ambassador *domain.Ambassador, tripler *domain.Tripler, payout *domain.Payout) error {
	if n == nil {
		return nil
	}
	var errs []error

	if n.mail != nil && len(n.operatorEmails) > 0 {
		subject := fmt.Sprintf("Tripler confirmed: %s %s", tripler.FirstName, tripler.LastName)
		if err := n.mail.Send(n.operatorEmails, subject, confirmationEmailBody(ambassador, tripler, payout, n.currency)); err != nil {
			n.logger.Error("failed to email operators", "tripler_id", tripler.ID, "error", err)
			errs = append(errs, fmt.Errorf("operator email: %w", err))
		}
	}

	event := domain.TriplerConfirmedEvent{
		TriplerID:    tripler.ID,
		AmbassadorID: payout.AmbassadorID,
		PayoutID:     payout.ID,
		Amount:       payout.Amount,
		OccurredAt:   time.Now().UTC(),
	}
	if err := n.publish(ctx, domain.RoutingTriplerConfirmed, event); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// PayoutOutcome publishes a payout.disbursed or payout.failed event.
func (n *Notifier) PayoutOutcome(ctx context.Context, routingKey string, event domain.PayoutEvent) error {
	return n.publish(ctx, routingKey, event)
}

func (n *Notifier) publish(ctx context.Context, routingKey string, event interface{}) error {
	if n == nil || n.events == nil {
		return nil
	}
	if err := n.events.Publish(ctx, domain.EventsExchange, routingKey, event); err != nil {
		n.logger.Error("failed to publish event", "routing_key", routingKey, "error", err)
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func confirmationEmailBody(ambassador *domain.Ambassador, tripler *domain.Tripler, payout *domain.Payout, currency string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tripler %s %s (%s) confirmed by SMS.\n", tripler.FirstName, tripler.LastName, tripler.Phone)
	if ambassador != nil {
		fmt.Fprintf(&b, "Ambassador: %s %s (%s)\n", ambassador.FirstName, ambassador.LastName, ambassador.ID)
	} else {
		fmt.Fprintf(&b, "Ambassador: %s\n", payout.AmbassadorID)
	}
	fmt.Fprintf(&b, "Triplees: %s\n", strings.Join(tripler.Triplees[:], ", "))
	fmt.Fprintf(&b, "Payout %s pending: %s %s\n", payout.ID, decimal.New(payout.Amount, -2).StringFixed(2), strings.ToUpper(currency))
	return b.String()
}
