package preserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/davidkroell/SpotRush/app/models"
	"github.com/davidkroell/SpotRush/app/repository"
	"github.com/davidkroell/SpotRush/internal/pkg/randtoken"
)

// DefaultTTL is the resume window granted to a paused run.
const DefaultTTL = 30 * time.Minute

const resumeTokenLength = 32

var (
	ErrNotFound     = errors.New("no paused state for run")
	ErrExpired      = errors.New("paused state expired")
	ErrInvalidState = errors.New("paused state is not resumable")
)

// BrowserState is the capability the preserver needs from whatever
// automation backend is in use. It deliberately knows nothing about DOM
// APIs or the backend's command protocol.
type BrowserState interface {
	CurrentURL(ctx context.Context) (string, error)
	ReadFormValues(ctx context.Context) (map[string]string, error)
	ReadStorage(ctx context.Context) (local map[string]string, session map[string]string, err error)
	ReadCookies(ctx context.Context) (string, error)
	RestoreFormValues(ctx context.Context, values map[string]string) error
	RestoreStorage(ctx context.Context, local, session map[string]string) error
}

// ChallengeContext carries what the challenge detector knew at pause time.
type ChallengeContext struct {
	PageURL       string
	QueuePosition *int
	Referrer      string
	ScrollY       int
	ScreenshotKey string
}

// Preserver snapshots and restores in-browser state across a verification
// pause. The snapshot must be durable before anyone is notified about it.
type Preserver struct {
	pauses repository.PauseRepository
	ttl    time.Duration
	now    func() time.Time
}

// New creates a preserver over the pause repository.
func New(pauses repository.PauseRepository) *Preserver {
	return &Preserver{
		pauses: pauses,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
}

// NewWithClock creates a preserver with an injected clock and TTL, for tests.
func NewWithClock(pauses repository.PauseRepository, ttl time.Duration, now func() time.Time) *Preserver {
	return &Preserver{pauses: pauses, ttl: ttl, now: now}
}

// Preserve captures the browser state of an interrupted run and persists it
// under a fresh single-use resume token.
func (p *Preserver) Preserve(ctx context.Context, runUUID string, browser BrowserState, cc ChallengeContext) (*models.PausedSessionState, error) {
	formValues, err := browser.ReadFormValues(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read form values: %w", err)
	}
	localStorage, sessionStorage, err := browser.ReadStorage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage: %w", err)
	}
	cookies, err := browser.ReadCookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	pageURL := cc.PageURL
	if pageURL == "" {
		if url, err := browser.CurrentURL(ctx); err == nil {
			pageURL = url
		}
	}

	formJSON, err := json.Marshal(formValues)
	if err != nil {
		return nil, err
	}
	localJSON, err := json.Marshal(localStorage)
	if err != nil {
		return nil, err
	}
	sessionJSON, err := json.Marshal(sessionStorage)
	if err != nil {
		return nil, err
	}

	token, err := randtoken.GenerateSecureSlug(resumeTokenLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate resume token: %w", err)
	}

	now := p.now()
	state := &models.PausedSessionState{
		RunUUID:            runUUID,
		ResumeToken:        token,
		PageURL:            pageURL,
		QueuePosition:      cc.QueuePosition,
		FormValuesJSON:     string(formJSON),
		CookieBlob:         cookies,
		LocalStorageJSON:   string(localJSON),
		SessionStorageJSON: string(sessionJSON),
		Referrer:           cc.Referrer,
		ScrollY:            cc.ScrollY,
		ScreenshotKey:      cc.ScreenshotKey,
		Status:             models.PauseStatusPaused,
		PausedAt:           now,
		ExpiresAt:          now.Add(p.ttl),
	}

	if err := p.pauses.Create(state); err != nil {
		return nil, fmt.Errorf("failed to persist paused state: %w", err)
	}

	log.Infof("[Preserver] Paused run %s at %s (expires %s)", runUUID, pageURL, state.ExpiresAt.Format(time.RFC3339))
	return state, nil
}

// Resume loads the latest snapshot for a run, claims it via compare-and-set
// and restores storage and form values into the given browser session.
// Exactly one caller can win the paused -> resumed transition; everyone else
// gets ErrInvalidState (or ErrExpired once the window closed).
func (p *Preserver) Resume(ctx context.Context, runUUID string, browser BrowserState) (*models.PausedSessionState, error) {
	state, err := p.pauses.GetLatestByRun(runUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if state.IsExpired(p.now()) {
		// Lazy expiry: flip on access, the periodic sweep is only a
		// backstop for states never queried again.
		if _, casErr := p.pauses.CASStatus(state.ID, models.PauseStatusPaused, models.PauseStatusExpired); casErr != nil {
			log.Errorf("[Preserver] Failed to expire state for run %s: %v", runUUID, casErr)
		}
		return nil, ErrExpired
	}

	if state.Status != models.PauseStatusPaused {
		return nil, ErrInvalidState
	}

	won, err := p.pauses.CASStatus(state.ID, models.PauseStatusPaused, models.PauseStatusResumed)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrInvalidState
	}

	var formValues map[string]string
	if err := json.Unmarshal([]byte(state.FormValuesJSON), &formValues); err != nil {
		return nil, fmt.Errorf("corrupt form snapshot for run %s: %w", runUUID, err)
	}
	var localStorage, sessionStorage map[string]string
	if err := json.Unmarshal([]byte(state.LocalStorageJSON), &localStorage); err != nil {
		return nil, fmt.Errorf("corrupt local storage snapshot for run %s: %w", runUUID, err)
	}
	if err := json.Unmarshal([]byte(state.SessionStorageJSON), &sessionStorage); err != nil {
		return nil, fmt.Errorf("corrupt session storage snapshot for run %s: %w", runUUID, err)
	}

	if err := browser.RestoreStorage(ctx, localStorage, sessionStorage); err != nil {
		return nil, fmt.Errorf("failed to restore storage: %w", err)
	}
	if err := browser.RestoreFormValues(ctx, formValues); err != nil {
		return nil, fmt.Errorf("failed to restore form values: %w", err)
	}

	state.Status = models.PauseStatusResumed
	log.Infof("[Preserver] Resumed run %s at %s", runUUID, state.PageURL)
	return state, nil
}

// ExtendTimeout pushes the resume window forward while a human is actively
// working through the verification, so it does not close mid-interaction.
func (p *Preserver) ExtendTimeout(runUUID string, minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("invalid extension: %d minutes", minutes)
	}
	return p.pauses.ExtendExpiry(runUUID, time.Duration(minutes)*time.Minute)
}

// Cleanup sweeps everything past its expiry to expired. Idempotent, safe on
// a fixed interval.
func (p *Preserver) Cleanup() (int64, error) {
	swept, err := p.pauses.SweepExpired(p.now())
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		log.Infof("[Preserver] Expired %d stale paused states", swept)
	}
	return swept, nil
}
