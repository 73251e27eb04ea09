package automation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/davidkroell/SpotRush/internal/pkg/env"
)

// Classification is the vision service's best-effort read of a challenge
// screenshot. It informs the operator-facing challenge description; it is
// never a gate on pausing or resuming.
type Classification struct {
	CaptchaType          string   `json:"captcha_type"`
	ChallengeDescription string   `json:"challenge_description"`
	SolvingInstructions  []string `json:"solving_instructions"`
	DifficultyLevel      string   `json:"difficulty_level"`
	EstimatedTimeSeconds int      `json:"estimated_time_seconds"`
	ConfidenceScore      float64  `json:"confidence_score"`
	VisualElements       []string `json:"visual_elements"`
}

// VisionClient calls the vision-capable model service.
type VisionClient struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
}

// NewVisionClient creates a vision client from the environment.
func NewVisionClient() *VisionClient {
	return &VisionClient{
		apiURL:     env.GetEnv("VISION_API_URL", ""),
		apiKey:     env.GetEnv("VISION_API_KEY", ""),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Classify sends a screenshot and page URL for classification.
func (v *VisionClient) Classify(ctx context.Context, screenshot []byte, pageURL string) (*Classification, error) {
	if v.apiURL == "" {
		return nil, fmt.Errorf("vision service is not configured")
	}

	body, err := json.Marshal(map[string]string{
		"image_base64": base64.StdEncoding.EncodeToString(screenshot),
		"page_url":     pageURL,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call vision service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vision service returned status %d", resp.StatusCode)
	}

	var classification Classification
	if err := json.NewDecoder(resp.Body).Decode(&classification); err != nil {
		return nil, fmt.Errorf("failed to decode vision service response: %w", err)
	}

	return &classification, nil
}
