package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MehdiDinari/homebook/pkg/utils"
)

const stripeAPIBase = "https://api.stripe.com/v1"

// StripeProvider drives Stripe hosted Checkout Sessions. The session id
// becomes the checkout token so confirm can fetch the session back.
type StripeProvider struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

func NewStripeProvider(secretKey string) *StripeProvider {
	return &StripeProvider{
		secretKey: secretKey,
		baseURL:   stripeAPIBase,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (p *StripeProvider) Name() string { return ProviderStripe }

type stripeSession struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PaymentStatus string `json:"payment_status"`
	PaymentIntent string `json:"payment_intent"`
}

func (p *StripeProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", utils.AppendQueryParam(req.SuccessURL, "checkout_token", "{CHECKOUT_SESSION_ID}"))
	form.Set("cancel_url", req.CancelURL)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.AmountCents, 10))
	form.Set("line_items[0][price_data][product_data][name]", req.Description)
	form.Set("client_reference_id", req.Token)

	session, err := p.call(ctx, http.MethodPost, "/checkout/sessions", form)
	if err != nil {
		return nil, err
	}
	return &CheckoutSession{
		Token:           session.ID,
		CheckoutURL:     session.URL,
		ProviderOrderID: &session.ID,
	}, nil
}

func (p *StripeProvider) ConfirmCheckout(ctx context.Context, tx ProviderTransaction) (*ConfirmResult, error) {
	session, err := p.call(ctx, http.MethodGet, "/checkout/sessions/"+url.PathEscape(tx.Token), nil)
	if err != nil {
		return nil, err
	}
	if session.PaymentStatus != "paid" {
		return &ConfirmResult{Paid: false}, nil
	}
	result := &ConfirmResult{Paid: true}
	if session.PaymentIntent != "" {
		result.CaptureID = &session.PaymentIntent
	}
	return result, nil
}

func (p *StripeProvider) call(ctx context.Context, method, path string, form url.Values) (*stripeSession, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderStripe, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &ProviderError{
			Provider: ProviderStripe,
			Message:  fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))),
			Status:   resp.StatusCode,
		}
	}

	var session stripeSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, &ProviderError{Provider: ProviderStripe, Message: "failed to decode response", Err: err}
	}
	return &session, nil
}
