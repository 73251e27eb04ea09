package verification

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/davidkroell/SpotRush/app/models"
	"github.com/davidkroell/SpotRush/app/repository"
	"github.com/davidkroell/SpotRush/internal/pkg/env"
	"github.com/davidkroell/SpotRush/internal/pkg/notify"
	"github.com/davidkroell/SpotRush/internal/pkg/preserver"
	"github.com/davidkroell/SpotRush/internal/pkg/randtoken"
	"github.com/davidkroell/SpotRush/internal/pkg/security"
)

// CodeTTL is how long a delivered verification code stays valid.
const CodeTTL = 10 * time.Minute

const codeLength = 6

// attemptExtensionMinutes is how far the resume window moves each time the
// holder of a live resume token submits a wrong code. Someone typing codes is
// still working on the challenge, the window must not close under them.
const attemptExtensionMinutes = 10

// Submission outcomes. The gateway never distinguishes "no such token" from
// "wrong code" toward the caller, so tokens cannot be enumerated.
type SubmitOutcome string

const (
	OutcomeAccepted        SubmitOutcome = "accepted"
	OutcomeInvalid         SubmitOutcome = "invalid"
	OutcomeExpired         SubmitOutcome = "expired"
	OutcomeAlreadyResolved SubmitOutcome = "already_resolved"
)

// SubmitResult is what a verification submission produced.
type SubmitResult struct {
	Outcome SubmitOutcome `json:"outcome"`
	RunUUID string        `json:"run_uuid,omitempty"`
}

// ResumeEnqueuer hands an accepted submission off to the background side so
// the HTTP response does not wait on browser work.
type ResumeEnqueuer interface {
	EnqueueResume(runUUID string) error
}

// Gateway issues out-of-band verification challenges for paused runs and
// validates the responses.
type Gateway struct {
	pauses     repository.PauseRepository
	challenges repository.ChallengeRepository
	enqueuer   ResumeEnqueuer
	preserver  *preserver.Preserver
	notifierFn func(channel string) (notify.Notifier, error)
	secret     string
	baseURL    string
	now        func() time.Time
}

// NewGateway builds a gateway over the given repositories. The enqueuer may
// be nil in contexts that only issue challenges.
func NewGateway(pauses repository.PauseRepository, challenges repository.ChallengeRepository, enqueuer ResumeEnqueuer) *Gateway {
	return &Gateway{
		pauses:     pauses,
		challenges: challenges,
		enqueuer:   enqueuer,
		preserver:  preserver.New(pauses),
		notifierFn: notify.ForChannel,
		secret:     env.GetEnv("RESUME_LINK_SECRET", ""),
		baseURL:    env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000"),
		now:        time.Now,
	}
}

// IssueChallenge generates a fresh one-time code for a paused run, persists
// its hash and sends the signed resume link out of band. The paused snapshot
// must already be durable; the challenge references its resume token.
func (g *Gateway) IssueChallenge(runUUID, channel, destination string) (*models.VerificationChallenge, error) {
	pause, err := g.pauses.GetLatestByRun(runUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("no paused snapshot for run %s", runUUID)
		}
		return nil, err
	}
	if pause.Status != models.PauseStatusPaused {
		return nil, fmt.Errorf("run %s is not paused", runUUID)
	}

	notifier, err := g.notifierFn(channel)
	if err != nil {
		return nil, err
	}

	code, err := randtoken.GenerateNumericCode(codeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate verification code: %w", err)
	}

	// Any earlier unconsumed challenge dies here so a resend cannot leave
	// two live codes for the same run.
	if err := g.challenges.InvalidatePendingForRun(runUUID); err != nil {
		return nil, err
	}

	now := g.now()
	challenge := &models.VerificationChallenge{
		RunUUID:           runUUID,
		Channel:           channel,
		DestinationMasked: notify.MaskDestination(channel, destination),
		CodeHash:          hashCode(code),
		IssuedAt:          now,
		ExpiresAt:         now.Add(CodeTTL),
	}
	if err := g.challenges.Create(challenge); err != nil {
		return nil, err
	}

	linkToken, err := security.GenerateResumeLinkToken(runUUID, pause.ResumeToken, code, CodeTTL, g.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign resume link: %w", err)
	}
	resumeLink := fmt.Sprintf("%s/resume/%s", g.baseURL, linkToken)

	subject := "Action needed: confirm your registration"
	message := fmt.Sprintf(
		"Your registration hit a verification step. Enter code %s or open %s within %d minutes to continue where it left off.",
		code, resumeLink, int(CodeTTL.Minutes()),
	)

	deliveryID, err := notifier.Send(destination, subject, message)
	if err != nil {
		log.Errorf("[Verification] Delivery failed for run %s via %s: %v", runUUID, channel, err)
		return nil, fmt.Errorf("%w: %v", notify.ErrNotificationFailed, err)
	}

	challenge.DeliveryID = deliveryID
	// Best effort, the hash and expiry are already durable.
	if err := g.challenges.Update(challenge); err != nil {
		log.Warnf("[Verification] Could not record delivery id for run %s: %v", runUUID, err)
	}

	log.Infof("[Verification] Issued %s challenge for run %s to %s (delivery %s)",
		channel, runUUID, challenge.DestinationMasked, deliveryID)
	return challenge, nil
}

// Submit validates a code against the run identified by its resume token.
// On success the challenge is consumed exactly once and a resume is queued.
func (g *Gateway) Submit(resumeToken, code string) (*SubmitResult, error) {
	pause, err := g.pauses.GetByToken(resumeToken)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &SubmitResult{Outcome: OutcomeInvalid}, nil
		}
		return nil, err
	}

	if pause.Status == models.PauseStatusResumed {
		return &SubmitResult{Outcome: OutcomeAlreadyResolved, RunUUID: pause.RunUUID}, nil
	}
	if pause.Status == models.PauseStatusExpired || pause.IsExpired(g.now()) {
		return &SubmitResult{Outcome: OutcomeExpired, RunUUID: pause.RunUUID}, nil
	}

	challenge, err := g.challenges.GetActiveByRun(pause.RunUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// No live challenge left means a prior submit already won.
			return &SubmitResult{Outcome: OutcomeAlreadyResolved, RunUUID: pause.RunUUID}, nil
		}
		return nil, err
	}
	if challenge.IsExpired(g.now()) {
		return &SubmitResult{Outcome: OutcomeExpired, RunUUID: pause.RunUUID}, nil
	}

	if subtle.ConstantTimeCompare([]byte(hashCode(code)), []byte(challenge.CodeHash)) != 1 {
		log.Warnf("[Verification] Wrong code for run %s", pause.RunUUID)
		// Reaching this branch took the real resume token, so a human is
		// actively working on the challenge. Push the window forward.
		if g.preserver != nil {
			if extErr := g.preserver.ExtendTimeout(pause.RunUUID, attemptExtensionMinutes); extErr != nil {
				log.Warnf("[Verification] Could not extend resume window for run %s: %v", pause.RunUUID, extErr)
			}
		}
		return &SubmitResult{Outcome: OutcomeInvalid}, nil
	}

	won, err := g.challenges.Consume(challenge.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		return &SubmitResult{Outcome: OutcomeAlreadyResolved, RunUUID: pause.RunUUID}, nil
	}

	if g.enqueuer != nil {
		if err := g.enqueuer.EnqueueResume(pause.RunUUID); err != nil {
			log.Errorf("[Verification] Failed to queue resume for run %s: %v", pause.RunUUID, err)
			return nil, err
		}
	}

	log.Infof("[Verification] Challenge solved for run %s, resume queued", pause.RunUUID)
	return &SubmitResult{Outcome: OutcomeAccepted, RunUUID: pause.RunUUID}, nil
}

// ResolveLink verifies a signed resume link and returns its claims, without
// consuming anything. The controller uses this for the GET landing page.
func (g *Gateway) ResolveLink(linkToken string) (*security.ResumeLinkClaims, error) {
	return security.VerifyResumeLinkToken(linkToken, g.secret)
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
