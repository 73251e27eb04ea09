package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/davidkroell/SpotRush/app/models"
	"github.com/davidkroell/SpotRush/app/repository"
	"github.com/davidkroell/SpotRush/internal/pkg/automation"
	"github.com/davidkroell/SpotRush/internal/pkg/env"
	"github.com/davidkroell/SpotRush/internal/pkg/predictor"
	"github.com/davidkroell/SpotRush/internal/pkg/preserver"
)

// The ordered steps a run walks through. PausedStep stores one of these so a
// resume continues where the challenge hit instead of starting over.
const (
	StepLogin    = "login"
	StepLocate   = "locate"
	StepCart     = "cart"
	StepCheckout = "checkout"
)

// SessionOpener opens fresh browser sessions on the automation backend.
type SessionOpener interface {
	OpenSession(ctx context.Context) (automation.Session, error)
}

// Snapshotter preserves and restores browser state across a pause.
type Snapshotter interface {
	Preserve(ctx context.Context, runUUID string, browser preserver.BrowserState, cc preserver.ChallengeContext) (*models.PausedSessionState, error)
	Resume(ctx context.Context, runUUID string, browser preserver.BrowserState) (*models.PausedSessionState, error)
}

// ChallengeIssuer sends the out-of-band verification for a paused run.
type ChallengeIssuer interface {
	IssueChallenge(runUUID, channel, destination string) (*models.VerificationChallenge, error)
}

// EvidenceStore archives challenge screenshots. Optional.
type EvidenceStore interface {
	UploadScreenshot(ctx context.Context, runUUID string, screenshot []byte) (string, error)
}

// ChallengeClassifier labels a challenge screenshot. Optional.
type ChallengeClassifier interface {
	Classify(ctx context.Context, screenshot []byte, pageURL string) (*automation.Classification, error)
}

// PaymentEnqueuer queues fee settlement after a successful run.
type PaymentEnqueuer interface {
	EnqueueSettlement(runUUID string) error
}

// CredentialSource resolves a stored credentials reference into usable login
// secrets without the run record ever holding them.
type CredentialSource interface {
	Resolve(ref string) (Credentials, error)
}

// EnvCredentialSource reads credentials from the process environment as
// CREDENTIALS_<REF>=username:password. Suitable for single-tenant deploys;
// a vault-backed source implements the same interface.
type EnvCredentialSource struct{}

func (EnvCredentialSource) Resolve(ref string) (Credentials, error) {
	key := "CREDENTIALS_" + strings.ToUpper(strings.ReplaceAll(ref, "-", "_"))
	raw := env.GetEnv(key, "")
	if raw == "" {
		return Credentials{}, fmt.Errorf("no credentials for ref %s", ref)
	}
	user, pass, ok := strings.Cut(raw, ":")
	if !ok {
		return Credentials{}, fmt.Errorf("malformed credentials for ref %s", ref)
	}
	return Credentials{Username: user, Password: pass}, nil
}

// Machine runs registration runs through their state machine. One Machine is
// shared by all workers; runs carry their own state.
type Machine struct {
	runs       repository.RunRepository
	users      repository.UserRepository
	pauses     repository.PauseRepository
	opener     SessionOpener
	snapshots  Snapshotter
	challenges ChallengeIssuer
	evidence   EvidenceStore
	classifier ChallengeClassifier
	payments   PaymentEnqueuer
	patterns   *predictor.Predictor
	creds      CredentialSource
	adapters   func(providerKey string) (ProviderAdapter, error)
	now        func() time.Time
}

// Deps bundles the machine's collaborators. Evidence and Classifier may be
// nil, everything else is required.
type Deps struct {
	Runs       repository.RunRepository
	Users      repository.UserRepository
	Pauses     repository.PauseRepository
	Opener     SessionOpener
	Snapshots  Snapshotter
	Challenges ChallengeIssuer
	Evidence   EvidenceStore
	Classifier ChallengeClassifier
	Payments   PaymentEnqueuer
	Patterns   *predictor.Predictor
	Creds      CredentialSource
}

func NewMachine(d Deps) *Machine {
	creds := d.Creds
	if creds == nil {
		creds = EnvCredentialSource{}
	}
	return &Machine{
		runs:       d.Runs,
		users:      d.Users,
		pauses:     d.Pauses,
		opener:     d.Opener,
		snapshots:  d.Snapshots,
		challenges: d.Challenges,
		evidence:   d.Evidence,
		classifier: d.Classifier,
		payments:   d.Payments,
		patterns:   d.Patterns,
		creds:      creds,
		adapters:   AdapterFor,
		now:        time.Now,
	}
}

// Execute drives a run from idle to a terminal state or a verification
// pause. A pause is a normal outcome, not an error.
func (m *Machine) Execute(ctx context.Context, runUUID string) error {
	run, err := m.runs.GetByUUID(runUUID)
	if err != nil {
		return err
	}
	if run.IsTerminal() {
		return fmt.Errorf("run %s already terminal (%s)", runUUID, run.Status)
	}
	if run.Status == models.RunStatusAwaitingVerification {
		return fmt.Errorf("run %s is awaiting verification", runUUID)
	}

	session, err := m.opener.OpenSession(ctx)
	if err != nil {
		return m.fail(run, fmt.Errorf("automation backend unavailable: %w", err))
	}
	defer session.Close(ctx)

	return m.drive(ctx, run, session, StepLogin)
}

// Resume continues a run that was paused for verification. The snapshot is
// claimed via compare-and-set, so concurrent resume attempts collapse to one
// winner.
func (m *Machine) Resume(ctx context.Context, runUUID string) error {
	run, err := m.runs.GetByUUID(runUUID)
	if err != nil {
		return err
	}
	if run.Status != models.RunStatusAwaitingVerification {
		return fmt.Errorf("run %s is not awaiting verification (%s)", runUUID, run.Status)
	}

	session, err := m.opener.OpenSession(ctx)
	if err != nil {
		return fmt.Errorf("automation backend unavailable: %w", err)
	}
	defer session.Close(ctx)

	state, err := m.snapshots.Resume(ctx, runUUID, session)
	if err != nil {
		if errors.Is(err, preserver.ErrExpired) {
			m.setStatus(run, models.RunStatusAbandoned)
			return err
		}
		return err
	}

	if state.PageURL != "" {
		if err := session.Goto(ctx, state.PageURL); err != nil {
			return m.fail(run, fmt.Errorf("failed to return to %s: %w", state.PageURL, err))
		}
	}

	step := run.PausedStep
	if step == "" {
		step = StepLogin
	}
	log.Infof("[Executor] Resuming run %s at step %s", runUUID, step)
	return m.drive(ctx, run, session, step)
}

// drive walks the step sequence starting at the given step.
func (m *Machine) drive(ctx context.Context, run *models.RegistrationRun, session automation.Session, fromStep string) error {
	adapter, err := m.adapters(run.ProviderKey)
	if err != nil {
		return m.fail(run, err)
	}

	started := m.now()
	steps := []string{StepLogin, StepLocate, StepCart, StepCheckout}
	var located map[int]string

	active := false
	for _, step := range steps {
		if step == fromStep {
			active = true
		}
		if !active {
			continue
		}

		switch step {
		case StepLogin:
			m.setStatus(run, models.RunStatusLoggingIn)
			creds, err := m.creds.Resolve(run.CredentialsRef)
			if err != nil {
				return m.fail(run, err)
			}
			err = adapter.Login(ctx, session, run.ProviderURL, creds)
			if err = m.checkStep(ctx, run, session, step, started, err); err != nil {
				return err
			}

		case StepLocate:
			m.setStatus(run, models.RunStatusSelectingPrograms)
			located, err = adapter.LocatePrograms(ctx, session, targetsOf(run))
			if errors.Is(err, ErrLocatorMismatch) {
				// Terminal by design of the matcher: never click a guess.
				for i := range run.Items {
					run.Items[i].Status = models.ItemStatusFailed
					run.Items[i].FailReason = err.Error()
					_ = m.runs.UpdateItem(&run.Items[i])
				}
				return m.fail(run, err)
			}
			if err = m.checkStep(ctx, run, session, step, started, err); err != nil {
				return err
			}

		case StepCart:
			m.setStatus(run, models.RunStatusAddingToCart)
			if located == nil {
				// Resumed past locate: re-run the matching, the page
				// state survived in the snapshot.
				located, err = adapter.LocatePrograms(ctx, session, targetsOf(run))
				if err = m.checkStep(ctx, run, session, step, started, err); err != nil {
					return err
				}
			}
			targets := targetsOf(run)
			for i := range run.Items {
				item := &run.Items[i]
				if item.Status == models.ItemStatusAdded {
					continue
				}
				err := adapter.AddToCart(ctx, session, located[i], targets[i])
				if errors.Is(err, ErrChallengeDetected) {
					return m.pause(ctx, run, session, step, started)
				}
				if err != nil {
					item.Status = models.ItemStatusFailed
					item.FailReason = err.Error()
					_ = m.runs.UpdateItem(item)
					log.Warnf("[Executor] Run %s item %d failed: %v", run.UUID, item.Position, err)
					continue
				}
				item.Status = models.ItemStatusAdded
				_ = m.runs.UpdateItem(item)
			}
			if !anyAdded(run) {
				return m.fail(run, errors.New("no item could be added to cart"))
			}

		case StepCheckout:
			m.setStatus(run, models.RunStatusCheckingOut)
			err = adapter.Checkout(ctx, session)
			if err = m.checkStep(ctx, run, session, step, started, err); err != nil {
				return err
			}
		}

		// A pause inside checkStep returns nil but moves the run off the
		// active path, stop walking in that case.
		if run.Status == models.RunStatusAwaitingVerification {
			return nil
		}
	}

	m.setStatus(run, models.RunStatusSucceeded)
	m.observePattern(run.ProviderKey, false, 0)
	log.Infof("[Executor] Run %s succeeded", run.UUID)

	if m.payments != nil {
		if err := m.payments.EnqueueSettlement(run.UUID); err != nil {
			log.Errorf("[Executor] Failed to queue settlement for run %s: %v", run.UUID, err)
		}
	}
	return nil
}

// checkStep folds a step result: nil passes through, a detected challenge
// becomes a pause, anything else fails the run.
func (m *Machine) checkStep(ctx context.Context, run *models.RegistrationRun, session automation.Session, step string, started time.Time, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrChallengeDetected) {
		return m.pause(ctx, run, session, step, started)
	}
	return m.fail(run, err)
}

// pause snapshots the browser, then notifies. The ordering is load-bearing:
// a user clicking the resume link must find a durable snapshot.
func (m *Machine) pause(ctx context.Context, run *models.RegistrationRun, session automation.Session, step string, started time.Time) error {
	m.observePattern(run.ProviderKey, true, m.now().Sub(started).Seconds())

	cc := preserver.ChallengeContext{}
	if url, err := session.CurrentURL(ctx); err == nil {
		cc.PageURL = url
	}

	screenshot, shotErr := session.Screenshot(ctx)
	if shotErr != nil {
		log.Warnf("[Executor] Screenshot failed for run %s: %v", run.UUID, shotErr)
	}
	if shotErr == nil && m.evidence != nil {
		if key, err := m.evidence.UploadScreenshot(ctx, run.UUID, screenshot); err == nil {
			cc.ScreenshotKey = key
		} else {
			log.Warnf("[Executor] Evidence upload failed for run %s: %v", run.UUID, err)
		}
	}
	if shotErr == nil && m.classifier != nil {
		if cls, err := m.classifier.Classify(ctx, screenshot, cc.PageURL); err == nil {
			log.Infof("[Executor] Run %s challenge classified as %s (difficulty %s, confidence %.2f)",
				run.UUID, cls.CaptchaType, cls.DifficultyLevel, cls.ConfidenceScore)
		} else {
			log.Warnf("[Executor] Challenge classification failed for run %s: %v", run.UUID, err)
		}
	}

	if _, err := m.snapshots.Preserve(ctx, run.UUID, session, cc); err != nil {
		return m.fail(run, fmt.Errorf("failed to preserve session state: %w", err))
	}

	run.PausedStep = step
	run.Status = models.RunStatusAwaitingVerification
	if err := m.runs.Update(run); err != nil {
		return err
	}

	channel, destination, err := m.contactFor(run)
	if err != nil {
		log.Errorf("[Executor] No verification contact for run %s: %v", run.UUID, err)
		return nil
	}
	if _, err := m.challenges.IssueChallenge(run.UUID, channel, destination); err != nil {
		// The snapshot survives, a challenge can be re-issued manually.
		log.Errorf("[Executor] Failed to issue challenge for run %s: %v", run.UUID, err)
	}

	log.Infof("[Executor] Run %s paused at step %s awaiting verification", run.UUID, step)
	return nil
}

// StatusOf reports a run's current status with lazy abandonment: a run stuck
// awaiting verification past its resume window flips to abandoned on read,
// the periodic sweep only covers runs nobody asks about.
func (m *Machine) StatusOf(runUUID string) (*models.RegistrationRun, error) {
	run, err := m.runs.GetByUUID(runUUID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunStatusAwaitingVerification {
		return run, nil
	}

	state, err := m.pauses.GetLatestByRun(runUUID)
	if err != nil {
		return run, nil
	}
	if state.Status == models.PauseStatusExpired || state.IsExpired(m.now()) {
		won, err := m.runs.CASStatus(runUUID, models.RunStatusAwaitingVerification, models.RunStatusAbandoned)
		if err != nil {
			return nil, err
		}
		if won {
			run.Status = models.RunStatusAbandoned
			log.Infof("[Executor] Run %s abandoned, resume window closed", runUUID)
		}
	}
	return run, nil
}

func (m *Machine) contactFor(run *models.RegistrationRun) (channel, destination string, err error) {
	user, err := m.users.GetByID(run.UserID)
	if err != nil {
		return "", "", err
	}
	if user.Phone != "" {
		return models.ChannelSMS, user.Phone, nil
	}
	if user.Email != "" {
		return models.ChannelEmail, user.Email, nil
	}
	return "", "", fmt.Errorf("user %d has no reachable contact", run.UserID)
}

func (m *Machine) observePattern(providerKey string, appeared bool, seconds float64) {
	if m.patterns == nil {
		return
	}
	if err := m.patterns.Update(providerKey, predictor.Observation{
		ChallengeAppeared:  appeared,
		SecondsToChallenge: seconds,
	}); err != nil {
		log.Warnf("[Executor] Pattern update failed for %s: %v", providerKey, err)
	}
}

func (m *Machine) setStatus(run *models.RegistrationRun, status string) {
	run.Status = status
	if err := m.runs.SetStatus(run.UUID, status); err != nil {
		log.Errorf("[Executor] Failed to set run %s to %s: %v", run.UUID, status, err)
	}
}

func (m *Machine) fail(run *models.RegistrationRun, cause error) error {
	run.Status = models.RunStatusFailed
	run.LastError = cause.Error()
	if err := m.runs.Update(run); err != nil {
		log.Errorf("[Executor] Failed to persist failure of run %s: %v", run.UUID, err)
	}
	log.Errorf("[Executor] Run %s failed: %v", run.UUID, cause)
	return cause
}

func targetsOf(run *models.RegistrationRun) []ProgramTarget {
	targets := make([]ProgramTarget, len(run.Items))
	for i, item := range run.Items {
		texts := append([]string{item.Session.ProgramText}, item.Session.AliasList()...)
		targets[i] = ProgramTarget{
			ChildName:    item.Child.FullName(),
			ChildBirth:   item.Child.BirthYear,
			ProgramTexts: texts,
		}
	}
	return targets
}

func anyAdded(run *models.RegistrationRun) bool {
	for _, item := range run.Items {
		if item.Status == models.ItemStatusAdded {
			return true
		}
	}
	return false
}
