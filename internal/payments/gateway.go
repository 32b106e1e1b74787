package payments

import (
	"context"
	"fmt"
)

const (
	ProviderAuto   = "auto"
	ProviderMock   = "mock"
	ProviderStripe = "stripe"
	ProviderPayPal = "paypal"
)

// CheckoutRequest describes one hosted-checkout creation.
type CheckoutRequest struct {
	Token       string
	AmountCents int64
	Currency    string
	Description string
	SuccessURL  string
	CancelURL   string
}

// CheckoutSession is what a provider returned for a created checkout.
// Token may differ from the requested one when the provider issues its
// own session identifier.
type CheckoutSession struct {
	Token           string
	CheckoutURL     string
	ProviderOrderID *string
}

// ConfirmResult reports the provider-side payment state for a token.
type ConfirmResult struct {
	Paid      bool
	CaptureID *string
}

type PayoutRequest struct {
	AmountCents int64
	Currency    string
	Email       string
	Note        string
}

// PayoutResult identifies the provider-side payout.
type PayoutResult struct {
	ExternalRef string
	Status      string
}

// Provider is one checkout rail. Confirm must be safe to call repeatedly
// for the same token.
type Provider interface {
	Name() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	ConfirmCheckout(ctx context.Context, tx ProviderTransaction) (*ConfirmResult, error)
}

// Payouts is implemented by providers that can push funds out.
type Payouts interface {
	CreatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
}

// ProviderTransaction carries the provider-facing identifiers of a stored
// transaction into a confirm call.
type ProviderTransaction struct {
	Token           string
	ProviderOrderID *string
	AmountCents     int64
	Currency        string
}

// ProviderError marks a failure on the provider side so handlers can
// answer 502 instead of 500. Status carries the upstream HTTP status
// when one was received.
type ProviderError struct {
	Provider string
	Message  string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ErrUnknownProvider is returned when a caller pins a provider that is
// not configured.
var ErrUnknownProvider = fmt.Errorf("unknown or unconfigured payment provider")

// Gateway resolves provider names to configured rails.
type Gateway struct {
	providers map[string]Provider
	preferred []string
	mock      Provider
}

// NewGateway wires the configured providers. The mock rail is always
// present; paypal wins over stripe when both are configured.
func NewGateway(stripe, paypal Provider) *Gateway {
	g := &Gateway{
		providers: map[string]Provider{},
		mock:      NewMockProvider(),
	}
	g.providers[ProviderMock] = g.mock
	if paypal != nil {
		g.providers[ProviderPayPal] = paypal
		g.preferred = append(g.preferred, ProviderPayPal)
	}
	if stripe != nil {
		g.providers[ProviderStripe] = stripe
		g.preferred = append(g.preferred, ProviderStripe)
	}
	g.preferred = append(g.preferred, ProviderMock)
	return g
}

// Resolve maps a requested provider name to a rail. "auto" (or empty)
// picks the best configured rail; an explicit name must be configured.
func (g *Gateway) Resolve(name string) (Provider, error) {
	if name == "" || name == ProviderAuto {
		return g.providers[g.preferred[0]], nil
	}
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Mock returns the fallback rail used when an auto-selected provider
// fails at checkout creation.
func (g *Gateway) Mock() Provider {
	return g.mock
}

// Payouts returns the payout rail for a withdrawal method, or nil when
// the method has no automated rail configured.
func (g *Gateway) Payouts(method string) Payouts {
	p, ok := g.providers[method]
	if !ok {
		return nil
	}
	payouts, ok := p.(Payouts)
	if !ok {
		return nil
	}
	return payouts
}
