package app

import (
	"context"
	"fmt"

	"github.com/zestyping/blockpower-be-sub000/internal/domain"
	"github.com/zestyping/blockpower-be-sub000/pkg/paypalclient"
	"github.com/zestyping/blockpower-be-sub000/pkg/stripeclient"
)

// Provider moves a payout's amount to an Ambassador's account and returns the provider's
// disbursement id. The payout id is used as the provider-side idempotency key. The set of
// implementations is closed: one per domain.ProviderType.
type Provider interface {
	Disburse(ctx context.Context, ambassador *domain.Ambassador, account *domain.Account, payout *domain.Payout) (string, error)
	providerType() domain.ProviderType
}

// StripeTransferer is the subset of the Stripe client used for disbursement.
type StripeTransferer interface {
	CreateTransfer(ctx context.Context, req stripeclient.TransferRequest) (*stripeclient.Transfer, error)
}

// PayPalPayer is the subset of the PayPal client used for disbursement.
type PayPalPayer interface {
	CreatePayout(ctx context.Context, req paypalclient.PayoutRequest) (*paypalclient.PayoutBatch, error)
}

type stripeProvider struct {
	client   StripeTransferer
	currency string
}

// NewStripeProvider returns the bank-linked transfer provider.
func NewStripeProvider(client StripeTransferer, currency string) Provider {
	return &stripeProvider{client: client, currency: currency}
}

func (p *stripeProvider) providerType() domain.ProviderType { return domain.ProviderStripe }

func (p *stripeProvider) Disburse(ctx context.Context, ambassador *domain.Ambassador, account *domain.Account, payout *domain.Payout) (string, error) {
	transfer, err := p.client.CreateTransfer(ctx, stripeclient.TransferRequest{
		Amount:         payout.Amount,
		Currency:       p.currency,
		Destination:    account.ExternalID,
		TransferGroup:  payout.ID,
		IdempotencyKey: payout.ID,
		Metadata: map[string]string{
			"payout_id":     payout.ID,
			"ambassador_id": ambassador.ID,
			"tripler_id":    payout.TriplerID,
		},
	})
	if err != nil {
		return "", err
	}
	return transfer.ID, nil
}

type paypalProvider struct {
	client   PayPalPayer
	currency string
}

// NewPayPalProvider returns the email payout provider.
func NewPayPalProvider(client PayPalPayer, currency string) Provider {
	return &paypalProvider{client: client, currency: currency}
}

func (p *paypalProvider) providerType() domain.ProviderType { return domain.ProviderPayPal }

func (p *paypalProvider) Disburse(ctx context.Context, ambassador *domain.Ambassador, account *domain.Account, payout *domain.Payout) (string, error) {
	batch, err := p.client.CreatePayout(ctx, paypalclient.PayoutRequest{
		SenderBatchID: payout.ID,
		ReceiverEmail: account.ExternalID,
		AmountMinor:   payout.Amount,
		Currency:      p.currency,
		Note:          fmt.Sprintf("Ambassador payout for %s %s", ambassador.FirstName, ambassador.LastName),
		SenderItem:    payout.TriplerID,
	})
	if err != nil {
		return "", err
	}
	return batch.BatchHeader.PayoutBatchID, nil
}

// ProviderSet holds the configured provider for each account type.
type ProviderSet struct {
	providers map[domain.ProviderType]Provider
}

// NewProviderSet indexes providers by their type. A nil entry leaves that type unconfigured.
func NewProviderSet(providers ...Provider) ProviderSet {
	set := ProviderSet{providers: map[domain.ProviderType]Provider{}}
	for _, p := range providers {
		if p != nil {
			set.providers[p.providerType()] = p
		}
	}
	return set
}

// For returns the provider serving accounts of type t.
func (s ProviderSet) For(t domain.ProviderType) (Provider, error) {
	if p, ok := s.providers[t]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("no provider configured for account type %q: %w", t, domain.ErrConfiguration)
}
