package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	paypalSandboxBase = "https://api-m.sandbox.paypal.com"
	paypalLiveBase    = "https://api-m.paypal.com"
)

// PayPalProvider drives PayPal Orders for checkout and Payouts for
// withdrawal settlement. The order id becomes the checkout token.
type PayPalProvider struct {
	clientID     string
	clientSecret string
	baseURL      string
	httpClient   *http.Client
}

func NewPayPalProvider(clientID, clientSecret, env string) *PayPalProvider {
	base := paypalSandboxBase
	if strings.EqualFold(strings.TrimSpace(env), "live") || strings.EqualFold(strings.TrimSpace(env), "production") {
		base = paypalLiveBase
	}
	return &PayPalProvider{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      base,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (p *PayPalProvider) Name() string { return ProviderPayPal }

// centsToValue formats cents as the "123.45" strings PayPal expects.
func centsToValue(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func (p *PayPalProvider) accessToken(ctx context.Context) (string, error) {
	form := strings.NewReader("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/oauth2/token", form)
	if err != nil {
		return "", fmt.Errorf("failed to create paypal token request: %w", err)
	}
	req.SetBasicAuth(p.clientID, p.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", &ProviderError{Provider: ProviderPayPal, Message: "token request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &ProviderError{Provider: ProviderPayPal, Message: fmt.Sprintf("token request returned %d", resp.StatusCode)}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", &ProviderError{Provider: ProviderPayPal, Message: "failed to decode token response", Err: err}
	}
	if payload.AccessToken == "" {
		return "", &ProviderError{Provider: ProviderPayPal, Message: "empty access token"}
	}
	return payload.AccessToken, nil
}

type paypalOrder struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (o *paypalOrder) approveURL() string {
	for _, link := range o.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			return link.Href
		}
	}
	return ""
}

func (o *paypalOrder) captureID() *string {
	for _, unit := range o.PurchaseUnits {
		for _, capture := range unit.Payments.Captures {
			if capture.Status == "COMPLETED" && capture.ID != "" {
				id := capture.ID
				return &id
			}
		}
	}
	return nil
}

func (o *paypalOrder) completed() bool {
	if o.Status == "COMPLETED" {
		return true
	}
	return o.captureID() != nil
}

func (p *PayPalProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.Token,
			"description":  req.Description,
			"amount": map[string]string{
				"currency_code": strings.ToUpper(req.Currency),
				"value":         centsToValue(req.AmountCents),
			},
		}},
		"application_context": map[string]string{
			"return_url":  req.SuccessURL,
			"cancel_url":  req.CancelURL,
			"user_action": "PAY_NOW",
		},
	}

	order, err := p.call(ctx, http.MethodPost, "/v2/checkout/orders", body)
	if err != nil {
		return nil, err
	}
	approve := order.approveURL()
	if approve == "" {
		return nil, &ProviderError{Provider: ProviderPayPal, Message: "order response missing approve link"}
	}
	return &CheckoutSession{
		Token:           order.ID,
		CheckoutURL:     approve,
		ProviderOrderID: &order.ID,
	}, nil
}

// ConfirmCheckout captures the approved order. A 422 usually means the
// order was already captured from the redirect, so the current order
// state is fetched before giving up.
func (p *PayPalProvider) ConfirmCheckout(ctx context.Context, tx ProviderTransaction) (*ConfirmResult, error) {
	orderID := tx.Token
	if tx.ProviderOrderID != nil && *tx.ProviderOrderID != "" {
		orderID = *tx.ProviderOrderID
	}

	order, err := p.captureOrder(ctx, orderID)
	if err != nil {
		if !isUnprocessable(err) {
			return nil, err
		}
		order, err = p.call(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil)
		if err != nil {
			return nil, err
		}
	}

	if !order.completed() {
		return &ConfirmResult{Paid: false}, nil
	}
	return &ConfirmResult{Paid: true, CaptureID: order.captureID()}, nil
}

func (p *PayPalProvider) captureOrder(ctx context.Context, orderID string) (*paypalOrder, error) {
	return p.call(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", map[string]any{})
}

// CreatePayout sends a synchronous single-item payout batch.
func (p *PayPalProvider) CreatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"sender_batch_header": map[string]string{
			"sender_batch_id": "wd_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
			"email_subject":   "You have a payout",
		},
		"items": []map[string]any{{
			"recipient_type": "EMAIL",
			"receiver":       req.Email,
			"note":           req.Note,
			"amount": map[string]string{
				"currency": strings.ToUpper(req.Currency),
				"value":    centsToValue(req.AmountCents),
			},
		}},
	}

	raw, err := p.doJSON(ctx, http.MethodPost, "/v1/payments/payouts?sync_mode=true", token, body)
	if err != nil {
		return nil, err
	}

	var payload struct {
		BatchHeader struct {
			PayoutBatchID string `json:"payout_batch_id"`
			BatchStatus   string `json:"batch_status"`
		} `json:"batch_header"`
		Items []struct {
			PayoutItemID      string `json:"payout_item_id"`
			TransactionStatus string `json:"transaction_status"`
		} `json:"items"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &ProviderError{Provider: ProviderPayPal, Message: "failed to decode payout response", Err: err}
	}

	result := &PayoutResult{
		ExternalRef: payload.BatchHeader.PayoutBatchID,
		Status:      payload.BatchHeader.BatchStatus,
	}
	if len(payload.Items) > 0 && payload.Items[0].PayoutItemID != "" {
		result.ExternalRef = payload.Items[0].PayoutItemID
		if payload.Items[0].TransactionStatus != "" {
			result.Status = payload.Items[0].TransactionStatus
		}
	}
	if result.ExternalRef == "" {
		return nil, &ProviderError{Provider: ProviderPayPal, Message: "payout response missing batch id"}
	}
	return result, nil
}

func (p *PayPalProvider) call(ctx context.Context, method, path string, body any) (*paypalOrder, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := p.doJSON(ctx, method, path, token, body)
	if err != nil {
		return nil, err
	}
	var order paypalOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, &ProviderError{Provider: ProviderPayPal, Message: "failed to decode order response", Err: err}
	}
	return &order, nil
}

func (p *PayPalProvider) doJSON(ctx context.Context, method, path, token string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode paypal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create paypal request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderPayPal, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{
			Provider: ProviderPayPal,
			Message:  fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
			Status:   resp.StatusCode,
		}
	}
	return raw, nil
}

func isUnprocessable(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.Status == http.StatusUnprocessableEntity
}
