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

// Session is the ordered imperative command surface of one remote browser
// session. Each call is synchronous request/response; a session must be
// explicitly closed.
type Session interface {
	Goto(ctx context.Context, url string) error
	Type(ctx context.Context, selector, text string) error
	ClickAny(ctx context.Context, selectors []string) error
	WaitNetworkIdle(ctx context.Context, timeout time.Duration) error
	Evaluate(ctx context.Context, script string) (json.RawMessage, error)
	Screenshot(ctx context.Context) ([]byte, error)
	CurrentURL(ctx context.Context) (string, error)
	Close(ctx context.Context) error

	// In-browser state capture/restore used around a verification pause.
	ReadFormValues(ctx context.Context) (map[string]string, error)
	ReadStorage(ctx context.Context) (local map[string]string, session map[string]string, err error)
	ReadCookies(ctx context.Context) (string, error)
	RestoreFormValues(ctx context.Context, values map[string]string) error
	RestoreStorage(ctx context.Context, local, session map[string]string) error
}

// Backend talks to the remote browser-automation provider.
type Backend struct {
	baseURL    string
	httpClient *http.Client
}

// NewBackend creates an automation backend client from the environment.
func NewBackend() *Backend {
	return &Backend{
		baseURL:    env.GetEnv("AUTOMATION_BASE_URL", "http://localhost:9222"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Health checks whether the automation provider is reachable.
func (b *Backend) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("automation backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("automation backend unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// OpenSession opens a new remote browser session.
func (b *Backend) OpenSession(ctx context.Context) (Session, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := b.post(ctx, "/v1/sessions", map[string]interface{}{}, &out); err != nil {
		return nil, fmt.Errorf("failed to open automation session: %w", err)
	}
	return &remoteSession{backend: b, id: out.SessionID}, nil
}

func (b *Backend) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("automation backend returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// remoteSession implements Session against the HTTP command endpoint.
type remoteSession struct {
	backend *Backend
	id      string
}

type commandRequest struct {
	Action    string   `json:"action"`
	URL       string   `json:"url,omitempty"`
	Selector  string   `json:"selector,omitempty"`
	Selectors []string `json:"selectors,omitempty"`
	Text      string   `json:"text,omitempty"`
	Script    string   `json:"script,omitempty"`
	TimeoutMS int64    `json:"timeout_ms,omitempty"`
}

type commandResponse struct {
	OK               bool            `json:"ok"`
	Error            string          `json:"error,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	ScreenshotBase64 string          `json:"screenshot_base64,omitempty"`
}

func (s *remoteSession) command(ctx context.Context, req commandRequest) (*commandResponse, error) {
	var resp commandResponse
	path := fmt.Sprintf("/v1/sessions/%s/command", s.id)
	if err := s.backend.post(ctx, path, req, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("automation command %s failed: %s", req.Action, resp.Error)
	}
	return &resp, nil
}

func (s *remoteSession) Goto(ctx context.Context, url string) error {
	_, err := s.command(ctx, commandRequest{Action: "goto", URL: url})
	return err
}

func (s *remoteSession) Type(ctx context.Context, selector, text string) error {
	_, err := s.command(ctx, commandRequest{Action: "type", Selector: selector, Text: text})
	return err
}

func (s *remoteSession) ClickAny(ctx context.Context, selectors []string) error {
	_, err := s.command(ctx, commandRequest{Action: "click_any", Selectors: selectors})
	return err
}

func (s *remoteSession) WaitNetworkIdle(ctx context.Context, timeout time.Duration) error {
	_, err := s.command(ctx, commandRequest{Action: "wait_network_idle", TimeoutMS: timeout.Milliseconds()})
	return err
}

func (s *remoteSession) Evaluate(ctx context.Context, script string) (json.RawMessage, error) {
	resp, err := s.command(ctx, commandRequest{Action: "evaluate", Script: script})
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (s *remoteSession) Screenshot(ctx context.Context) ([]byte, error) {
	resp, err := s.command(ctx, commandRequest{Action: "screenshot"})
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(resp.ScreenshotBase64)
}

func (s *remoteSession) CurrentURL(ctx context.Context) (string, error) {
	result, err := s.Evaluate(ctx, "window.location.href")
	if err != nil {
		return "", err
	}
	var url string
	if err := json.Unmarshal(result, &url); err != nil {
		return "", err
	}
	return url, nil
}

func (s *remoteSession) Close(ctx context.Context) error {
	return s.backend.post(ctx, fmt.Sprintf("/v1/sessions/%s/close", s.id), map[string]interface{}{}, nil)
}

const readFormValuesScript = `(() => {
	const out = {};
	for (const el of document.querySelectorAll('input[name], select[name], textarea[name]')) {
		if (el.type === 'password') continue;
		out[el.name] = el.value;
	}
	return out;
})()`

func (s *remoteSession) ReadFormValues(ctx context.Context) (map[string]string, error) {
	result, err := s.Evaluate(ctx, readFormValuesScript)
	if err != nil {
		return nil, err
	}
	values := map[string]string{}
	if err := json.Unmarshal(result, &values); err != nil {
		return nil, err
	}
	return values, nil
}

const readStorageScript = `(() => {
	const dump = (s) => { const o = {}; for (let i = 0; i < s.length; i++) { const k = s.key(i); o[k] = s.getItem(k); } return o; };
	return { local: dump(localStorage), session: dump(sessionStorage) };
})()`

func (s *remoteSession) ReadStorage(ctx context.Context) (map[string]string, map[string]string, error) {
	result, err := s.Evaluate(ctx, readStorageScript)
	if err != nil {
		return nil, nil, err
	}
	var out struct {
		Local   map[string]string `json:"local"`
		Session map[string]string `json:"session"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, nil, err
	}
	return out.Local, out.Session, nil
}

func (s *remoteSession) ReadCookies(ctx context.Context) (string, error) {
	result, err := s.Evaluate(ctx, "document.cookie")
	if err != nil {
		return "", err
	}
	var cookies string
	if err := json.Unmarshal(result, &cookies); err != nil {
		return "", err
	}
	return cookies, nil
}

func (s *remoteSession) RestoreFormValues(ctx context.Context, values map[string]string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	script := fmt.Sprintf(`(() => {
		const values = %s;
		for (const [name, value] of Object.entries(values)) {
			const el = document.querySelector('[name=' + CSS.escape(name) + ']');
			if (el) { el.value = value; el.dispatchEvent(new Event('input', {bubbles: true})); }
		}
		return true;
	})()`, data)
	_, err = s.Evaluate(ctx, script)
	return err
}

func (s *remoteSession) RestoreStorage(ctx context.Context, local, session map[string]string) error {
	payload, err := json.Marshal(map[string]map[string]string{"local": local, "session": session})
	if err != nil {
		return err
	}
	script := fmt.Sprintf(`(() => {
		const state = %s;
		for (const [k, v] of Object.entries(state.local || {})) localStorage.setItem(k, v);
		for (const [k, v] of Object.entries(state.session || {})) sessionStorage.setItem(k, v);
		return true;
	})()`, payload)
	_, err = s.Evaluate(ctx, script)
	return err
}
