package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/davidkroell/SpotRush/internal/pkg/env"
)

// SMSNotifier sends verification messages through an HTTP SMS gateway.
type SMSNotifier struct {
	gatewayURL string
	apiKey     string
	httpClient *http.Client
}

// NewSMSNotifier creates an SMS notifier from the environment.
func NewSMSNotifier() *SMSNotifier {
	return &SMSNotifier{
		gatewayURL: env.GetEnv("SMS_GATEWAY_URL", ""),
		apiKey:     env.GetEnv("SMS_GATEWAY_KEY", ""),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type smsResponse struct {
	Success    bool     `json:"success"`
	DeliveryID string   `json:"delivery_id"`
	ErrorCodes []string `json:"error-codes"`
}

// Send posts the message to the gateway. The subject is ignored, SMS has no
// subject line.
func (n *SMSNotifier) Send(to string, _ string, message string) (string, error) {
	if n.gatewayURL == "" {
		return "", fmt.Errorf("%w: SMS gateway is not configured", ErrNotificationFailed)
	}

	formData := url.Values{
		"key":     {n.apiKey},
		"to":      {to},
		"message": {message},
	}

	resp, err := n.httpClient.PostForm(n.gatewayURL, formData)
	if err != nil {
		return "", fmt.Errorf("%w: failed to reach SMS gateway: %v", ErrNotificationFailed, err)
	}
	defer resp.Body.Close()

	var response smsResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("%w: failed to decode SMS gateway response: %v", ErrNotificationFailed, err)
	}

	if !response.Success {
		errorMsg := "SMS delivery rejected"
		if len(response.ErrorCodes) > 0 {
			errorMsg = errorMsg + ": " + response.ErrorCodes[0]
		}
		return "", fmt.Errorf("%w: %s", ErrNotificationFailed, errorMsg)
	}

	return response.DeliveryID, nil
}
