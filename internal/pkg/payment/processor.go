package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/davidkroell/SpotRush/internal/pkg/env"
)

// ProcessorClient charges a stored payment method off-session and returns
// the processor's charge id.
type ProcessorClient interface {
	ChargeOffSession(ctx context.Context, customerRef, methodRef string, amountCents int64, description string) (string, error)
}

// HTTPProcessor talks to the payment processor's REST API.
type HTTPProcessor struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPProcessor builds a processor client from the environment.
func NewHTTPProcessor() *HTTPProcessor {
	return &HTTPProcessor{
		baseURL: env.GetEnv("PAYMENT_API_URL", "https://api.payment.example.com"),
		apiKey:  env.GetEnv("PAYMENT_API_KEY", ""),
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

type chargeRequest struct {
	Customer      string `json:"customer"`
	PaymentMethod string `json:"payment_method"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	Description   string `json:"description"`
	OffSession    bool   `json:"off_session"`
}

type chargeResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *HTTPProcessor) ChargeOffSession(ctx context.Context, customerRef, methodRef string, amountCents int64, description string) (string, error) {
	body, err := json.Marshal(chargeRequest{
		Customer:      customerRef,
		PaymentMethod: methodRef,
		AmountCents:   amountCents,
		Currency:      "usd",
		Description:   description,
		OffSession:    true,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/charges", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("charge request failed: %w", err)
	}
	defer resp.Body.Close()

	var out chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("unexpected charge response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.Status != "succeeded" {
		msg := out.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("processor returned status %d", resp.StatusCode)
		}
		return out.ID, fmt.Errorf("charge declined: %s", msg)
	}
	return out.ID, nil
}
