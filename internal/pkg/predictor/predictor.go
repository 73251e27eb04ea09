package predictor

import (
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/davidkroell/SpotRush/app/models"
)

// Recommended pre-staging actions, from most to least aggressive.
const (
	ActionPreNotify = "pre_notify"
	ActionPrepare   = "prepare"
	ActionMonitor   = "monitor"
)

// Factor weights. Fixed constants carried over from operational tuning, not
// analytically derived.
const (
	weightTimeOfDay = 0.25
	weightQueueLoad = 0.35
	weightHistory   = 0.30
	weightBehavior  = 0.10
)

const emaDecay = 0.9

// Store is the injected per-provider pattern state. GORM-backed in
// production, in-memory in tests. ErrNotFound from Get means "unknown
// provider" and yields the conservative default prediction.
type Store interface {
	GetByProvider(providerKey string) (*models.ProviderPattern, error)
	Upsert(pattern *models.ProviderPattern) error
}

// Context carries the observable signals of a run at prediction time.
type Context struct {
	At            time.Time
	QueuePosition *int
	TimeInQueue   *time.Duration
	BehaviorScore *float64
}

// Prediction is advisory: it tunes how aggressively notification channels
// are pre-staged and never blocks the executor.
type Prediction struct {
	Likelihood        float64            `json:"likelihood"`
	Confidence        float64            `json:"confidence"`
	Factors           map[string]float64 `json:"factors"`
	RecommendedAction string             `json:"recommended_action"`
}

// Observation is one observed run outcome fed back into the pattern state.
type Observation struct {
	ChallengeAppeared  bool
	SecondsToChallenge float64
}

// Predictor scores the likelihood that a verification challenge interrupts a
// run. Pure computation over stored pattern state; no network calls.
type Predictor struct {
	store Store
}

// New creates a predictor over the injected pattern store.
func New(store Store) *Predictor {
	return &Predictor{store: store}
}

// Predict returns the challenge likelihood for a provider given the current
// run context. Unknown providers get a fixed conservative default instead of
// an error.
func (p *Predictor) Predict(providerKey string, rc Context) Prediction {
	pattern, err := p.store.GetByProvider(providerKey)
	if err != nil || pattern == nil {
		return Prediction{
			Likelihood:        0.3,
			Confidence:        0.5,
			Factors:           map[string]float64{},
			RecommendedAction: ActionMonitor,
		}
	}

	timeFactor := 0.0
	if pattern.IsPeakHour(rc.At.Hour()) {
		timeFactor = 1.0
	}

	queueFactor := queueLoadFactor(rc.QueuePosition)

	historyFactor := pattern.ChallengeFrequency / 100.0
	if historyFactor > 1.0 {
		historyFactor = 1.0
	}

	behaviorFactor := 0.0
	if rc.BehaviorScore != nil {
		behaviorFactor = clamp01(*rc.BehaviorScore)
	}

	likelihood := weightTimeOfDay*timeFactor +
		weightQueueLoad*queueFactor +
		weightHistory*historyFactor +
		weightBehavior*behaviorFactor

	confidence := confidenceFor(pattern.Observations)

	return Prediction{
		Likelihood: likelihood,
		Confidence: confidence,
		Factors: map[string]float64{
			"time_of_day": timeFactor,
			"queue_load":  queueFactor,
			"history":     historyFactor,
			"behavior":    behaviorFactor,
		},
		RecommendedAction: recommendAction(likelihood, confidence),
	}
}

// Update folds one observed outcome into the provider's moving averages.
// Accumulate-and-store is sufficient here: the state is advisory and needs
// no strict ordering under concurrent updates.
func (p *Predictor) Update(providerKey string, obs Observation) error {
	pattern, err := p.store.GetByProvider(providerKey)
	if err != nil || pattern == nil {
		pattern = &models.ProviderPattern{ProviderKey: providerKey}
	}

	observed := 0.0
	if obs.ChallengeAppeared {
		observed = 100.0
	}
	pattern.ChallengeFrequency = pattern.ChallengeFrequency*emaDecay + observed*(1-emaDecay)

	if obs.ChallengeAppeared && obs.SecondsToChallenge > 0 {
		// Running average over challenge-bearing observations only.
		n := float64(pattern.Observations)
		pattern.AvgSecondsToChallenge = (pattern.AvgSecondsToChallenge*n + obs.SecondsToChallenge) / (n + 1)
	}
	pattern.Observations++

	if err := p.store.Upsert(pattern); err != nil {
		log.Errorf("[Predictor] Failed to store pattern update for %s: %v", providerKey, err)
		return err
	}
	return nil
}

// queueLoadFactor is a step function on queue position thresholds.
func queueLoadFactor(position *int) float64 {
	if position == nil {
		return 0.2
	}
	switch {
	case *position > 100:
		return 0.9
	case *position > 50:
		return 0.7
	case *position > 20:
		return 0.5
	default:
		return 0.2
	}
}

// confidenceFor grows with observation count: 0.5 baseline, +0.01 per
// observed outcome, capped at 0.95.
func confidenceFor(observations int) float64 {
	c := 0.5 + float64(observations)*0.01
	if c > 0.95 {
		return 0.95
	}
	return c
}

func recommendAction(likelihood, confidence float64) string {
	if likelihood > 0.7 && confidence > 0.7 {
		return ActionPreNotify
	}
	if likelihood > 0.5 && confidence > 0.6 {
		return ActionPrepare
	}
	return ActionMonitor
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
