package verification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/davidkroell/SpotRush/app/models"
	"github.com/davidkroell/SpotRush/internal/pkg/notify"
	"github.com/davidkroell/SpotRush/internal/pkg/preserver"
	"github.com/davidkroell/SpotRush/internal/pkg/security"
)

type fakePauseRepo struct {
	states     []*models.PausedSessionState
	extensions []time.Duration
}

func (f *fakePauseRepo) Create(s *models.PausedSessionState) error {
	s.ID = uint(len(f.states) + 1)
	f.states = append(f.states, s)
	return nil
}

func (f *fakePauseRepo) GetLatestByRun(runUUID string) (*models.PausedSessionState, error) {
	for i := len(f.states) - 1; i >= 0; i-- {
		if f.states[i].RunUUID == runUUID {
			return f.states[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakePauseRepo) GetByToken(token string) (*models.PausedSessionState, error) {
	for _, s := range f.states {
		if s.ResumeToken == token {
			return s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakePauseRepo) Update(s *models.PausedSessionState) error { return nil }

func (f *fakePauseRepo) CASStatus(id uint, from, to string) (bool, error) {
	for _, s := range f.states {
		if s.ID == id && s.Status == from {
			s.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePauseRepo) ExtendExpiry(runUUID string, d time.Duration) error {
	f.extensions = append(f.extensions, d)
	for _, s := range f.states {
		if s.RunUUID == runUUID && s.Status == models.PauseStatusPaused {
			s.ExpiresAt = s.ExpiresAt.Add(d)
		}
	}
	return nil
}
func (f *fakePauseRepo) SweepExpired(now time.Time) (int64, error) { return 0, nil }

type fakeChallengeRepo struct {
	challenges []*models.VerificationChallenge
}

func (f *fakeChallengeRepo) Create(ch *models.VerificationChallenge) error {
	ch.ID = uint(len(f.challenges) + 1)
	f.challenges = append(f.challenges, ch)
	return nil
}

func (f *fakeChallengeRepo) Update(ch *models.VerificationChallenge) error { return nil }

func (f *fakeChallengeRepo) GetActiveByRun(runUUID string) (*models.VerificationChallenge, error) {
	for i := len(f.challenges) - 1; i >= 0; i-- {
		if f.challenges[i].RunUUID == runUUID && !f.challenges[i].Consumed {
			return f.challenges[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeChallengeRepo) InvalidatePendingForRun(runUUID string) error {
	for _, ch := range f.challenges {
		if ch.RunUUID == runUUID {
			ch.Consumed = true
		}
	}
	return nil
}

func (f *fakeChallengeRepo) Consume(id uint) (bool, error) {
	for _, ch := range f.challenges {
		if ch.ID == id && !ch.Consumed {
			ch.Consumed = true
			return true, nil
		}
	}
	return false, nil
}

type captureNotifier struct {
	destination string
	message     string
	fail        bool
}

func (n *captureNotifier) Send(destination, subject, message string) (string, error) {
	if n.fail {
		return "", notify.ErrNotificationFailed
	}
	n.destination = destination
	n.message = message
	return "delivery-1", nil
}

type fakeEnqueuer struct {
	queued []string
}

func (f *fakeEnqueuer) EnqueueResume(runUUID string) error {
	f.queued = append(f.queued, runUUID)
	return nil
}

func newTestGateway(pauses *fakePauseRepo, challenges *fakeChallengeRepo, n *captureNotifier, e *fakeEnqueuer) *Gateway {
	return &Gateway{
		pauses:     pauses,
		challenges: challenges,
		enqueuer:   e,
		preserver:  preserver.New(pauses),
		notifierFn: func(channel string) (notify.Notifier, error) { return n, nil },
		secret:     "test-secret",
		baseURL:    "https://spotrush.test",
		now:        time.Now,
	}
}

func pausedState(runUUID, token string) *models.PausedSessionState {
	return &models.PausedSessionState{
		RunUUID:     runUUID,
		ResumeToken: token,
		Status:      models.PauseStatusPaused,
		PausedAt:    time.Now(),
		ExpiresAt:   time.Now().Add(30 * time.Minute),
	}
}

func TestIssueChallenge(t *testing.T) {
	pauses := &fakePauseRepo{}
	challenges := &fakeChallengeRepo{}
	notifier := &captureNotifier{}
	gw := newTestGateway(pauses, challenges, notifier, nil)
	require.NoError(t, pauses.Create(pausedState("run-1", "tok-1")))

	ch, err := gw.IssueChallenge("run-1", models.ChannelEmail, "parent@example.com")
	require.NoError(t, err)

	assert.Equal(t, "p***@example.com", ch.DestinationMasked)
	assert.Equal(t, "delivery-1", ch.DeliveryID)
	assert.Len(t, ch.CodeHash, 64)
	assert.WithinDuration(t, time.Now().Add(CodeTTL), ch.ExpiresAt, time.Second)
	assert.Equal(t, "parent@example.com", notifier.destination)
	assert.Contains(t, notifier.message, "https://spotrush.test/resume/")
}

func TestIssueChallengeInvalidatesPrevious(t *testing.T) {
	pauses := &fakePauseRepo{}
	challenges := &fakeChallengeRepo{}
	gw := newTestGateway(pauses, challenges, &captureNotifier{}, nil)
	require.NoError(t, pauses.Create(pausedState("run-1", "tok-1")))

	first, err := gw.IssueChallenge("run-1", models.ChannelEmail, "parent@example.com")
	require.NoError(t, err)
	second, err := gw.IssueChallenge("run-1", models.ChannelEmail, "parent@example.com")
	require.NoError(t, err)

	assert.True(t, challenges.challenges[first.ID-1].Consumed)
	active, err := challenges.GetActiveByRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
}

func TestIssueChallengeRequiresPausedSnapshot(t *testing.T) {
	gw := newTestGateway(&fakePauseRepo{}, &fakeChallengeRepo{}, &captureNotifier{}, nil)
	_, err := gw.IssueChallenge("run-x", models.ChannelEmail, "parent@example.com")
	assert.Error(t, err)
}

func TestIssueChallengeDeliveryFailure(t *testing.T) {
	pauses := &fakePauseRepo{}
	gw := newTestGateway(pauses, &fakeChallengeRepo{}, &captureNotifier{fail: true}, nil)
	require.NoError(t, pauses.Create(pausedState("run-1", "tok-1")))

	_, err := gw.IssueChallenge("run-1", models.ChannelSMS, "+15551234567")
	assert.ErrorIs(t, err, notify.ErrNotificationFailed)
}

// issueWithKnownCode plants a challenge whose plain code the test controls.
func issueWithKnownCode(challenges *fakeChallengeRepo, runUUID, code string) *models.VerificationChallenge {
	ch := &models.VerificationChallenge{
		RunUUID:   runUUID,
		Channel:   models.ChannelEmail,
		CodeHash:  hashCode(code),
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(CodeTTL),
	}
	_ = challenges.Create(ch)
	return ch
}

func TestSubmitAccepted(t *testing.T) {
	pauses := &fakePauseRepo{}
	challenges := &fakeChallengeRepo{}
	enqueuer := &fakeEnqueuer{}
	gw := newTestGateway(pauses, challenges, &captureNotifier{}, enqueuer)
	require.NoError(t, pauses.Create(pausedState("run-1", "tok-1")))
	issueWithKnownCode(challenges, "run-1", "482913")

	res, err := gw.Submit("tok-1", "482913")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, "run-1", res.RunUUID)
	assert.Equal(t, []string{"run-1"}, enqueuer.queued)
}

func TestSubmitWrongCode(t *testing.T) {
	pauses := &fakePauseRepo{}
	challenges := &fakeChallengeRepo{}
	gw := newTestGateway(pauses, challenges, &captureNotifier{}, &fakeEnqueuer{})
	require.NoError(t, pauses.Create(pausedState("run-1", "tok-1")))
	issueWithKnownCode(challenges, "run-1", "482913")

	res, err := gw.Submit("tok-1", "000000")
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, res.Outcome)
	assert.Empty(t, res.RunUUID)
}

func TestSubmitWrongCodeExtendsResumeWindow(t *testing.T) {
	pauses := &fakePauseRepo{}
	challenges := &fakeChallengeRepo{}
	gw := newTestGateway(pauses, challenges, &captureNotifier{}, &fakeEnqueuer{})
	state := pausedState("run-1", "tok-1")
	require.NoError(t, pauses.Create(state))
	issueWithKnownCode(challenges, "run-1", "482913")
	deadline := state.ExpiresAt

	res, err := gw.Submit("tok-1", "000000")
	require.NoError(t, err)
	require.Equal(t, OutcomeInvalid, res.Outcome)

	// A wrong attempt with the real token keeps the window open.
	require.Len(t, pauses.extensions, 1)
	assert.Equal(t, 10*time.Minute, pauses.extensions[0])
	assert.Equal(t, deadline.Add(10*time.Minute), state.ExpiresAt)
}

func TestSubmitAcceptedDoesNotExtendWindow(t *testing.T) {
	pauses := &fakePauseRepo{}
	challenges := &fakeChallengeRepo{}
	gw := newTestGateway(pauses, challenges, &captureNotifier{}, &fakeEnqueuer{})
	require.NoError(t, pauses.Create(pausedState("run-1", "tok-1")))
	issueWithKnownCode(challenges, "run-1", "482913")

	res, err := gw.Submit("tok-1", "482913")
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Empty(t, pauses.extensions)
}

func TestSubmitUnknownTokenLooksLikeWrongCode(t *testing.T) {
	gw := newTestGateway(&fakePauseRepo{}, &fakeChallengeRepo{}, &captureNotifier{}, &fakeEnqueuer{})
	res, err := gw.Submit("no-such-token", "123456")
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, res.Outcome)
	assert.Empty(t, res.RunUUID)
}

func TestSubmitSecondAttemptAlreadyResolved(t *testing.T) {
	pauses := &fakePauseRepo{}
	challenges := &fakeChallengeRepo{}
	gw := newTestGateway(pauses, challenges, &captureNotifier{}, &fakeEnqueuer{})
	require.NoError(t, pauses.Create(pausedState("run-1", "tok-1")))
	issueWithKnownCode(challenges, "run-1", "482913")

	first, err := gw.Submit("tok-1", "482913")
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, first.Outcome)

	second, err := gw.Submit("tok-1", "482913")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyResolved, second.Outcome)
}

func TestSubmitAfterResume(t *testing.T) {
	pauses := &fakePauseRepo{}
	challenges := &fakeChallengeRepo{}
	gw := newTestGateway(pauses, challenges, &captureNotifier{}, &fakeEnqueuer{})
	state := pausedState("run-1", "tok-1")
	state.Status = models.PauseStatusResumed
	require.NoError(t, pauses.Create(state))

	res, err := gw.Submit("tok-1", "482913")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyResolved, res.Outcome)
}

func TestSubmitExpired(t *testing.T) {
	pauses := &fakePauseRepo{}
	challenges := &fakeChallengeRepo{}
	gw := newTestGateway(pauses, challenges, &captureNotifier{}, &fakeEnqueuer{})
	state := pausedState("run-1", "tok-1")
	state.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, pauses.Create(state))
	issueWithKnownCode(challenges, "run-1", "482913")

	res, err := gw.Submit("tok-1", "482913")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, res.Outcome)
}

func TestSubmitExpiredCode(t *testing.T) {
	pauses := &fakePauseRepo{}
	challenges := &fakeChallengeRepo{}
	gw := newTestGateway(pauses, challenges, &captureNotifier{}, &fakeEnqueuer{})
	require.NoError(t, pauses.Create(pausedState("run-1", "tok-1")))
	ch := issueWithKnownCode(challenges, "run-1", "482913")
	ch.ExpiresAt = time.Now().Add(-time.Minute)

	res, err := gw.Submit("tok-1", "482913")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, res.Outcome)
}

func TestResolveLinkRoundTrip(t *testing.T) {
	gw := newTestGateway(&fakePauseRepo{}, &fakeChallengeRepo{}, &captureNotifier{}, nil)

	token, err := security.GenerateResumeLinkToken("run-1", "tok-1", "482913", CodeTTL, gw.secret)
	require.NoError(t, err)

	claims, err := gw.ResolveLink(token)
	require.NoError(t, err)
	assert.Equal(t, "run-1", claims.RunUUID)
	assert.Equal(t, "tok-1", claims.Token)
	assert.Equal(t, "482913", claims.Code)
}
