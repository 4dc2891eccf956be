/**
 * @description
 * Confirmation state machine. Inbound SMS replies move a pending Tripler to confirmed
 * (creating the Ambassador's pending Payout), delete it on rejection, or re-send the
 * confirmation prompt for anything else. Follow-up messages run in the background and
 * never affect the state transition.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zestyping/blockpower-be-sub000/internal/domain"
	"github.com/zestyping/blockpower-be-sub000/internal/store"
)

// Reply is the classification of an inbound SMS body.
type Reply string

const (
	ReplyYes   Reply = "yes"
	ReplyNo    Reply = "no"
	ReplyOther Reply = "other"
)

const followUpTimeout = 30 * time.Second

// ClassifyReply maps a free-text SMS body to yes, no or other, ignoring case, surrounding
// whitespace and trailing punctuation.
func ClassifyReply(body string) Reply {
	normalized := strings.ToLower(strings.TrimSpace(body))
	normalized = strings.TrimRight(normalized, ".!?, ")
	switch normalized {
	case "yes", "y":
		return ReplyYes
	case "no", "n":
		return ReplyNo
	default:
		return ReplyOther
	}
}

// ConfirmationService applies SMS replies to Tripler records.
type ConfirmationService struct {
	repo       store.Repository
	notifier   *Notifier
	amount     int64
	upgradeURL string
	logger     *slog.Logger
	metrics    *Metrics
	background sync.WaitGroup
}

// NewConfirmationService creates a ConfirmationService that creates payouts of amount
// minor units on confirmation.
func NewConfirmationService(repo store.Repository, notifier *Notifier, amount int64, upgradeURL string, logger *slog.Logger, metrics *Metrics) *ConfirmationService {
	return &ConfirmationService{
		repo:       repo,
		notifier:   notifier,
		amount:     amount,
		upgradeURL: upgradeURL,
		logger:     logger,
		metrics:    metrics,
	}
}

// HandleReply applies one inbound reply. An unknown sender is logged and ignored.
func (s *ConfirmationService) HandleReply(ctx context.Context, from, body string) error {
	phone, err := NormalizePhone(from)
	if err != nil {
		s.metrics.RecordReply("invalid", "ignored")
		s.logger.Warn("inbound sms from unparseable number", "from", from, "error", err)
		return nil
	}

	tripler, err := s.repo.FindTriplerByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.metrics.RecordReply("unknown", "ignored")
			s.logger.Info("inbound sms from unknown number", "phone", phone)
			return nil
		}
		return fmt.Errorf("find tripler by phone: %w", err)
	}

	reply := ClassifyReply(body)
	switch reply {
	case ReplyYes:
		_, err = s.Confirm(ctx, tripler.ID)
	case ReplyNo:
		err = s.Detach(ctx, tripler.ID)
	default:
		err = s.Reconfirm(ctx, tripler.ID)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.RecordReply(string(reply), outcome)
	if err != nil {
		return fmt.Errorf("handle %s reply for tripler %s: %w", reply, tripler.ID, err)
	}
	return nil
}

// Confirm moves a pending Tripler to confirmed and creates the Ambassador's pending Payout.
func (s *ConfirmationService) Confirm(ctx context.Context, triplerID string) (*domain.Payout, error) {
	payout, err := s.repo.ConfirmTripler(ctx, triplerID, s.amount)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordConfirmation()
	s.logger.Info("tripler confirmed", "tripler_id", triplerID, "ambassador_id", payout.AmbassadorID, "payout_id", payout.ID)

	s.goBackground(ctx, func(ctx context.Context) {
		s.afterConfirm(ctx, triplerID, payout)
	})
	return payout, nil
}

// Detach deletes the Tripler. There is no rejected state.
func (s *ConfirmationService) Detach(ctx context.Context, triplerID string) error {
	if err := s.repo.DeleteTripler(ctx, triplerID); err != nil {
		return err
	}
	s.logger.Info("tripler detached", "tripler_id", triplerID)
	return nil
}

// Reconfirm re-sends the confirmation prompt to a pending Tripler without changing state.
func (s *ConfirmationService) Reconfirm(ctx context.Context, triplerID string) error {
	tripler, err := s.repo.FindTriplerByID(ctx, triplerID)
	if err != nil {
		return err
	}
	if tripler.Status != domain.TriplerPending {
		return domain.ErrTriplerNotPending
	}

	ambassador, err := s.repo.FindAmbassadorByID(ctx, tripler.ClaimedBy)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	message := ConfirmationMessage(tripler, ambassador)
	s.goBackground(ctx, func(ctx context.Context) {
		_ = s.notifier.SendSMS(ctx, tripler.Phone, message)
	})
	s.logger.Info("confirmation prompt re-sent", "tripler_id", triplerID)
	return nil
}

// Wait blocks until background follow-ups have finished.
func (s *ConfirmationService) Wait() {
	s.background.Wait()
}

func (s *ConfirmationService) goBackground(ctx context.Context, fn func(ctx context.Context)) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("background follow-up panicked", "panic", r)
			}
		}()
		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), followUpTimeout)
		defer cancel()
		fn(bgCtx)
	}()
}

func (s *ConfirmationService) afterConfirm(ctx context.Context, triplerID string, payout *domain.Payout) {
	tripler, err := s.repo.FindTriplerByID(ctx, triplerID)
	if err != nil {
		s.logger.Error("failed to load confirmed tripler for follow-ups", "tripler_id", triplerID, "error", err)
		return
	}
	ambassador, err := s.repo.FindAmbassadorByID(ctx, payout.AmbassadorID)
	if err != nil {
		s.logger.Error("failed to load ambassador for follow-ups", "ambassador_id", payout.AmbassadorID, "error", err)
		ambassador = nil
	}

	_ = s.notifier.TriplerConfirmed(ctx, ambassador, tripler, payout)

	if !tripler.UpgradeNoticeSent {
		if err := s.notifier.SendSMS(ctx, tripler.Phone, UpgradeMessage(tripler, s.upgradeURL)); err == nil {
			if err := s.repo.MarkUpgradeNoticeSent(ctx, tripler.ID); err != nil {
				s.logger.Error("failed to mark upgrade notice sent", "tripler_id", tripler.ID, "error", err)
			}
		}
	}

	if ambassador != nil && ambassador.Phone != "" {
		_ = s.notifier.SendSMS(ctx, ambassador.Phone, AmbassadorNoticeMessage(tripler))
	}
}

// ConfirmationMessage is the prompt asking a Tripler to confirm their three triplees.
func ConfirmationMessage(tripler *domain.Tripler, ambassador *domain.Ambassador) string {
	referrer := "A friend"
	if ambassador != nil && ambassador.FirstName != "" {
		referrer = ambassador.FirstName
	}
	return fmt.Sprintf(
		"Hi %s! %s says you will remind %s, %s and %s to vote. Reply YES to confirm or NO to opt out.",
		tripler.FirstName, referrer, tripler.Triplees[0], tripler.Triplees[1], tripler.Triplees[2],
	)
}

// UpgradeMessage invites a confirmed Tripler to become an Ambassador.
func UpgradeMessage(tripler *domain.Tripler, upgradeURL string) string {
	msg := fmt.Sprintf("Thanks for confirming, %s! You can earn payouts too by becoming an Ambassador.", tripler.FirstName)
	if upgradeURL != "" {
		msg += " Sign up at " + upgradeURL
	}
	return msg
}

// AmbassadorNoticeMessage tells the Ambassador a Tripler confirmed.
func AmbassadorNoticeMessage(tripler *domain.Tripler) string {
	return fmt.Sprintf("Good news: %s %s confirmed as your Tripler. Your payout is being processed.", tripler.FirstName, tripler.LastName)
}
