package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/davidkroell/SpotRush/app/models"
	"github.com/davidkroell/SpotRush/internal/pkg/automation"
)

// ErrChallengeDetected is returned by adapter steps when the provider threw
// an interactive verification in the way. The state machine turns it into a
// pause, it is never fatal by itself.
var ErrChallengeDetected = errors.New("verification challenge detected")

// ErrLocatorMismatch is returned when no listed program clears the match
// threshold. It is terminal for the item: guessing a click on a paid
// registration is worse than failing loudly.
var ErrLocatorMismatch = errors.New("no program listing matched confidently enough")

// ErrNoConfirmation is returned when checkout finished without the provider
// ever showing an order confirmation. Without that marker the registration
// cannot be counted as won, a cart that silently expired looks the same.
var ErrNoConfirmation = errors.New("no checkout confirmation from provider")

// Credentials are the provider login secrets resolved from the vault ref.
type Credentials struct {
	Username string
	Password string
}

// ProgramTarget is one registration the adapter should perform.
type ProgramTarget struct {
	ChildName    string
	ChildBirth   int
	ProgramTexts []string
}

// ProviderAdapter drives one registration platform through a browser
// session. All steps may return ErrChallengeDetected.
type ProviderAdapter interface {
	Key() string
	Login(ctx context.Context, s automation.Session, baseURL string, creds Credentials) error
	// LocatePrograms maps each target to the on-page listing it matched,
	// failing the whole call with ErrLocatorMismatch when one cannot be
	// matched confidently.
	LocatePrograms(ctx context.Context, s automation.Session, targets []ProgramTarget) (map[int]string, error)
	AddToCart(ctx context.Context, s automation.Session, listing string, target ProgramTarget) error
	Checkout(ctx context.Context, s automation.Session) error
}

// AdapterFor returns the adapter for a provider key.
func AdapterFor(providerKey string) (ProviderAdapter, error) {
	switch providerKey {
	case models.ProviderJackrabbit:
		return &jackrabbitAdapter{}, nil
	case models.ProviderSkiClubPro:
		return &skiClubProAdapter{}, nil
	}
	return nil, fmt.Errorf("no adapter for provider %s", providerKey)
}

// challengeMarkers are DOM fingerprints of the verification walls the
// supported providers are known to throw.
var challengeMarkers = []string{
	"iframe[src*='captcha']",
	"iframe[src*='challenge']",
	"#captcha-container",
	".g-recaptcha",
	".h-captcha",
	"input[name='verification_code']",
}

const detectChallengeScript = `(function(sels){
	for (const sel of sels) { if (document.querySelector(sel)) return true; }
	return false;
})(%s)`

// checkChallenge probes the current page for a verification wall and
// returns ErrChallengeDetected when one is present.
func checkChallenge(ctx context.Context, s automation.Session) error {
	sels, _ := json.Marshal(challengeMarkers)
	raw, err := s.Evaluate(ctx, fmt.Sprintf(detectChallengeScript, string(sels)))
	if err != nil {
		return nil // probe failure is not a challenge
	}
	var found bool
	if err := json.Unmarshal(raw, &found); err == nil && found {
		return ErrChallengeDetected
	}
	return nil
}

// confirmationMarkers are the order-confirmation fingerprints of the
// supported providers' post-checkout pages.
var confirmationMarkers = []string{
	".confirmation-number",
	"#order-confirmation",
	".checkout-complete",
	".messages--status",
}

const detectConfirmationScript = `(function(sels){
	for (const sel of sels) { if (document.querySelector(sel)) return true; }
	const text = document.body ? document.body.innerText : '';
	return /order (number|confirmation)|registration (complete|confirmed)|thank you for (registering|your order)/i.test(text);
})(%s)`

const (
	confirmationWait     = 30 * time.Second
	confirmationInterval = 2 * time.Second
)

// awaitConfirmation polls the page for a confirmation marker until the wait
// window runs out. Confirmation pages can render a beat after network idle,
// hence the polling rather than a single probe.
func awaitConfirmation(ctx context.Context, s automation.Session, wait, interval time.Duration) error {
	sels, _ := json.Marshal(confirmationMarkers)
	script := fmt.Sprintf(detectConfirmationScript, string(sels))
	deadline := time.Now().Add(wait)
	for {
		raw, err := s.Evaluate(ctx, script)
		if err == nil {
			var found bool
			if jerr := json.Unmarshal(raw, &found); jerr == nil && found {
				return nil
			}
		}
		if !time.Now().Before(deadline) {
			return ErrNoConfirmation
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// listProgramsScript collects the visible listing texts from the provider's
// program table. Both supported providers render listings as rows with a
// title cell, the selector list covers their variants.
const listProgramsScript = `(function(){
	const out = [];
	const sels = ['.class-listing .class-title', 'tr.program-row td.program-name', '.openings-table td:first-child'];
	for (const sel of sels) {
		document.querySelectorAll(sel).forEach(el => out.push(el.textContent.trim()));
		if (out.length) break;
	}
	return out;
})()`

func listPrograms(ctx context.Context, s automation.Session) ([]string, error) {
	raw, err := s.Evaluate(ctx, listProgramsScript)
	if err != nil {
		return nil, err
	}
	var listings []string
	if err := json.Unmarshal(raw, &listings); err != nil {
		return nil, fmt.Errorf("unexpected listing payload: %w", err)
	}
	return listings, nil
}

func locateByFuzzyMatch(listings []string, targets []ProgramTarget) (map[int]string, error) {
	matched := make(map[int]string, len(targets))
	for i, target := range targets {
		listing, score := BestMatch(target.ProgramTexts, listings)
		if score < MatchThreshold {
			return nil, fmt.Errorf("%w: %q best candidate %q scored %.2f",
				ErrLocatorMismatch, strings.Join(target.ProgramTexts, " | "), listing, score)
		}
		matched[i] = listing
	}
	return matched, nil
}

// jackrabbitAdapter drives Jackrabbit Class parent portals.
type jackrabbitAdapter struct{}

func (a *jackrabbitAdapter) Key() string { return models.ProviderJackrabbit }

func (a *jackrabbitAdapter) Login(ctx context.Context, s automation.Session, baseURL string, creds Credentials) error {
	if err := s.Goto(ctx, baseURL+"/portal/login"); err != nil {
		return err
	}
	if err := checkChallenge(ctx, s); err != nil {
		return err
	}
	if err := s.Type(ctx, "#LoginEmail", creds.Username); err != nil {
		return err
	}
	if err := s.Type(ctx, "#LoginPassword", creds.Password); err != nil {
		return err
	}
	if err := s.ClickAny(ctx, []string{"#btnLogin", "button[type='submit']"}); err != nil {
		return err
	}
	if err := s.WaitNetworkIdle(ctx, 15*time.Second); err != nil {
		return err
	}
	return checkChallenge(ctx, s)
}

func (a *jackrabbitAdapter) LocatePrograms(ctx context.Context, s automation.Session, targets []ProgramTarget) (map[int]string, error) {
	if err := s.ClickAny(ctx, []string{"a[href*='Classes']", "#nav-classes"}); err != nil {
		return nil, err
	}
	if err := s.WaitNetworkIdle(ctx, 15*time.Second); err != nil {
		return nil, err
	}
	if err := checkChallenge(ctx, s); err != nil {
		return nil, err
	}
	listings, err := listPrograms(ctx, s)
	if err != nil {
		return nil, err
	}
	return locateByFuzzyMatch(listings, targets)
}

func (a *jackrabbitAdapter) AddToCart(ctx context.Context, s automation.Session, listing string, target ProgramTarget) error {
	script := fmt.Sprintf(`(function(title){
		const rows = document.querySelectorAll('.class-listing');
		for (const row of rows) {
			const t = row.querySelector('.class-title');
			if (t && t.textContent.trim() === title) {
				row.querySelector('a.register-link, button.register').click();
				return true;
			}
		}
		return false;
	})(%q)`, listing)
	raw, err := s.Evaluate(ctx, script)
	if err != nil {
		return err
	}
	var clicked bool
	if err := json.Unmarshal(raw, &clicked); err != nil || !clicked {
		return fmt.Errorf("register control missing for listing %q", listing)
	}
	if err := s.WaitNetworkIdle(ctx, 15*time.Second); err != nil {
		return err
	}
	if err := checkChallenge(ctx, s); err != nil {
		return err
	}
	// Jackrabbit asks which student the enrollment is for.
	if err := s.Type(ctx, "input[name='student_name']", target.ChildName); err == nil {
		if err := s.ClickAny(ctx, []string{"#btnAddStudent", "button.confirm-student"}); err != nil {
			return err
		}
	}
	return s.ClickAny(ctx, []string{"#btnAddToCart", "button.add-to-cart"})
}

func (a *jackrabbitAdapter) Checkout(ctx context.Context, s automation.Session) error {
	if err := s.ClickAny(ctx, []string{"a[href*='Cart']", "#nav-cart"}); err != nil {
		return err
	}
	if err := s.ClickAny(ctx, []string{"#btnCheckout", "button.checkout"}); err != nil {
		return err
	}
	if err := s.WaitNetworkIdle(ctx, 30*time.Second); err != nil {
		return err
	}
	if err := checkChallenge(ctx, s); err != nil {
		return err
	}
	return awaitConfirmation(ctx, s, confirmationWait, confirmationInterval)
}

// skiClubProAdapter drives SkiClubPro club storefronts.
type skiClubProAdapter struct{}

func (a *skiClubProAdapter) Key() string { return models.ProviderSkiClubPro }

func (a *skiClubProAdapter) Login(ctx context.Context, s automation.Session, baseURL string, creds Credentials) error {
	if err := s.Goto(ctx, baseURL+"/user/login"); err != nil {
		return err
	}
	if err := checkChallenge(ctx, s); err != nil {
		return err
	}
	if err := s.Type(ctx, "#edit-name", creds.Username); err != nil {
		return err
	}
	if err := s.Type(ctx, "#edit-pass", creds.Password); err != nil {
		return err
	}
	if err := s.ClickAny(ctx, []string{"#edit-submit", "button[type='submit']"}); err != nil {
		return err
	}
	if err := s.WaitNetworkIdle(ctx, 15*time.Second); err != nil {
		return err
	}
	return checkChallenge(ctx, s)
}

func (a *skiClubProAdapter) LocatePrograms(ctx context.Context, s automation.Session, targets []ProgramTarget) (map[int]string, error) {
	if err := s.ClickAny(ctx, []string{"a[href*='registration']", ".menu-registration a"}); err != nil {
		return nil, err
	}
	if err := s.WaitNetworkIdle(ctx, 15*time.Second); err != nil {
		return nil, err
	}
	if err := checkChallenge(ctx, s); err != nil {
		return nil, err
	}
	listings, err := listPrograms(ctx, s)
	if err != nil {
		return nil, err
	}
	return locateByFuzzyMatch(listings, targets)
}

func (a *skiClubProAdapter) AddToCart(ctx context.Context, s automation.Session, listing string, target ProgramTarget) error {
	script := fmt.Sprintf(`(function(title){
		const rows = document.querySelectorAll('.openings-table tr');
		for (const row of rows) {
			const t = row.querySelector('td:first-child');
			if (t && t.textContent.trim() === title) {
				row.querySelector('a.signup, input[value="Sign up"]').click();
				return true;
			}
		}
		return false;
	})(%q)`, listing)
	raw, err := s.Evaluate(ctx, script)
	if err != nil {
		return err
	}
	var clicked bool
	if err := json.Unmarshal(raw, &clicked); err != nil || !clicked {
		return fmt.Errorf("signup control missing for listing %q", listing)
	}
	if err := s.WaitNetworkIdle(ctx, 15*time.Second); err != nil {
		return err
	}
	if err := checkChallenge(ctx, s); err != nil {
		return err
	}
	// Participant select is a dropdown keyed by the child's name.
	selectScript := fmt.Sprintf(`(function(name){
		const sel = document.querySelector('select[name*="participant"]');
		if (!sel) return true;
		for (const opt of sel.options) {
			if (opt.textContent.trim().toLowerCase().includes(name.toLowerCase())) {
				sel.value = opt.value;
				sel.dispatchEvent(new Event('change', {bubbles: true}));
				return true;
			}
		}
		return false;
	})(%q)`, target.ChildName)
	raw, err = s.Evaluate(ctx, selectScript)
	if err != nil {
		return err
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil || !ok {
		return fmt.Errorf("participant %q not selectable for listing %q", target.ChildName, listing)
	}
	return s.ClickAny(ctx, []string{"#edit-add-to-cart", "button.add-to-cart"})
}

func (a *skiClubProAdapter) Checkout(ctx context.Context, s automation.Session) error {
	if err := s.Goto(ctx, "/cart/checkout"); err != nil {
		return err
	}
	if err := s.ClickAny(ctx, []string{"#edit-actions-next", "button.checkout-continue"}); err != nil {
		return err
	}
	if err := s.WaitNetworkIdle(ctx, 30*time.Second); err != nil {
		return err
	}
	if err := checkChallenge(ctx, s); err != nil {
		return err
	}
	return awaitConfirmation(ctx, s, confirmationWait, confirmationInterval)
}
