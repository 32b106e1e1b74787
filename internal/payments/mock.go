package payments

import (
	"context"

	"github.com/MehdiDinari/homebook/pkg/utils"
)

// MockProvider simulates a hosted checkout for development and tests.
// The checkout URL points straight at the success redirect with the
// token attached, and every confirm reports the payment as completed.
type MockProvider struct{}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Name() string { return ProviderMock }

func (p *MockProvider) CreateCheckout(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	url := req.SuccessURL
	if url == "" {
		url = "https://example.com/paiement-ok/"
	}
	return &CheckoutSession{
		Token:       req.Token,
		CheckoutURL: utils.AppendQueryParam(url, "checkout_token", req.Token),
	}, nil
}

func (p *MockProvider) ConfirmCheckout(_ context.Context, _ ProviderTransaction) (*ConfirmResult, error) {
	return &ConfirmResult{Paid: true}, nil
}
