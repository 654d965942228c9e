// Package auth drives the login state machine: restore a persisted session
// and verify it, or perform a fresh credential + one-time-code login, saving
// the resulting storage state for the next run.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hostscrape/internal/browser"
	"hostscrape/internal/session"
)

// ErrLoginFailed is fatal for the task: retries are exhausted, the
// credential form could not be reached, or no success indicator appeared
// after the code was submitted.
var ErrLoginFailed = errors.New("login failed")

// SessionStore is the slice of the session store the machine needs.
type SessionStore interface {
	GetActive(ctx context.Context, accountID int64) ([]byte, error)
	Save(ctx context.Context, accountID int64, storageState []byte, meta Metadata) (string, error)
}

// Metadata mirrors session.Metadata so callers can depend on this package
// alone.
type Metadata = session.Metadata

// Launcher creates fresh browser sessions.
type Launcher interface {
	NewPage(ctx context.Context) (browser.Page, error)
}

type Machine struct {
	store         SessionStore
	launcher      Launcher
	markers       Markers
	retryAttempts int
	logger        *slog.Logger

	// probeTimeout bounds each marker existence check during verification
	// and success detection.
	probeTimeout time.Duration
}

func NewMachine(store SessionStore, launcher Launcher, markers Markers, retryAttempts int, logger *slog.Logger) *Machine {
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	return &Machine{
		store:         store,
		launcher:      launcher,
		markers:       markers,
		retryAttempts: retryAttempts,
		logger:        logger,
		probeTimeout:  3 * time.Second,
	}
}

// ObtainSession returns a live authenticated browser handle for the account.
// The caller owns the handle and must Close it; on error no handle leaks.
func (m *Machine) ObtainSession(ctx context.Context, accountID int64, creds CredentialSupplier) (browser.Page, error) {
	page, err := m.launcher.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire browser: %w", err)
	}

	if err := m.authenticate(ctx, accountID, page, creds); err != nil {
		page.Close()
		return nil, err
	}
	return page, nil
}

func (m *Machine) authenticate(ctx context.Context, accountID int64, page browser.Page, creds CredentialSupplier) error {
	logger := m.logger.With("account_id", accountID)

	if m.restoreSession(ctx, accountID, page, logger) {
		logger.Info("Session restored, no login required")
		m.persistState(ctx, accountID, page, logger)
		return nil
	}

	logger.Info("No restorable session, performing fresh login")
	if err := m.freshLogin(ctx, page, creds, logger); err != nil {
		return err
	}

	m.persistState(ctx, accountID, page, logger)
	return nil
}

// restoreSession attempts the restore-and-verify path. Single attempt: any
// failure falls through to fresh login. Store outages are treated the same
// as "no session".
func (m *Machine) restoreSession(ctx context.Context, accountID int64, page browser.Page, logger *slog.Logger) bool {
	blob, err := m.store.GetActive(ctx, accountID)
	if err != nil {
		if !errors.Is(err, session.ErrNoSession) {
			logger.Warn("Session store unavailable, falling back to fresh login", "error", err)
		}
		return false
	}

	if err := page.ImportStorageState(blob); err != nil {
		logger.Warn("Failed to seed storage state", "error", err)
		return false
	}

	return m.verifyAuthenticated(page, logger)
}

// verifyAuthenticated navigates to an authenticated-only page and checks a
// prioritized list of markers: redirect back to login means failure, any
// authenticated marker means success, any login-form marker means failure,
// and a clean URL with none of the above counts as success.
func (m *Machine) verifyAuthenticated(page browser.Page, logger *slog.Logger) bool {
	if err := page.Navigate(m.markers.VerifyURL); err != nil {
		logger.Warn("Verification navigation failed", "error", err)
		return false
	}

	url, err := page.Location()
	if err != nil {
		return false
	}
	if strings.Contains(url, "login") || strings.Contains(url, "signin") {
		logger.Info("Session invalid, redirected to login")
		return false
	}
	if m.markers.VerifyURLFragment != "" && !strings.Contains(url, m.markers.VerifyURLFragment) {
		logger.Info("Session invalid, unexpected landing page", "url", url)
		return false
	}

	for _, sel := range m.markers.AuthenticatedSelectors {
		if page.Exists(sel, m.probeTimeout) {
			logger.Info("Session verified", "marker", sel)
			return true
		}
	}
	for _, sel := range m.markers.LoginFormSelectors {
		if page.ExistsIn("", sel) {
			logger.Info("Session invalid, login form present")
			return false
		}
	}

	// No marker either way but the URL held; treat as authenticated.
	return true
}

func (m *Machine) freshLogin(ctx context.Context, page browser.Page, creds CredentialSupplier, logger *slog.Logger) error {
	credentials, err := creds.Credentials(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}

	if err := page.Navigate(m.markers.LoginURL); err != nil {
		return fmt.Errorf("%w: open login page: %v", ErrLoginFailed, err)
	}
	if err := page.Click(m.markers.ContinueWithEmail); err != nil {
		return fmt.Errorf("%w: continue-with-email control not found: %v", ErrLoginFailed, err)
	}
	page.Sleep(time.Second)

	frame, err := m.locateCredentialForm(page)
	if err != nil {
		return err
	}

	if err := m.submitCredentials(page, frame, credentials, logger); err != nil {
		return err
	}

	if err := m.completeChallenge(ctx, page, frame, creds, logger); err != nil {
		return err
	}

	return m.detectLoginSuccess(page, logger)
}

// locateCredentialForm finds where the email/password inputs live: the main
// document or the authentication iframe. Neither is fatal individually, but
// both missing is.
func (m *Machine) locateCredentialForm(page browser.Page) (string, error) {
	if page.ExistsIn("", m.markers.EmailInput) {
		return "", nil
	}
	if m.markers.AuthFrame != "" && page.Exists(m.markers.AuthFrame, m.probeTimeout) &&
		page.ExistsIn(m.markers.AuthFrame, m.markers.EmailInput) {
		return m.markers.AuthFrame, nil
	}
	return "", fmt.Errorf("%w: authentication form not found on page or in iframe", ErrLoginFailed)
}

// submitCredentials fills and submits the form, then actively searches the
// page and iframe text for known error messages, since the submission alone
// does not reveal the outcome. Navigation hiccups consume an attempt from
// the same budget as credential errors.
func (m *Machine) submitCredentials(page browser.Page, frame string, credentials Credentials, logger *slog.Logger) error {
	inputs := []string{m.markers.EmailInput, m.markers.PasswordInput}

	for attempt := 1; attempt <= m.retryAttempts; attempt++ {
		logger.Info("Submitting credentials", "attempt", attempt, "max_attempts", m.retryAttempts)

		if err := m.fillAndSubmit(page, frame, credentials); err != nil {
			logger.Warn("Credential submission step failed", "attempt", attempt, "error", err)
			page.ClearIn(frame, inputs)
			continue
		}
		page.Sleep(2 * time.Second)

		if msg := m.findErrorMessage(page, frame); msg != "" {
			logger.Warn("Login rejected", "attempt", attempt, "reason", msg)
			if err := page.ClearIn(frame, inputs); err != nil {
				logger.Warn("Failed to clear form inputs", "error", err)
			}
			continue
		}

		if m.challengeOffered(page, frame) {
			logger.Info("Credentials accepted, challenge issued")
			return nil
		}

		// No error text and no challenge: outcome undetectable, burn an
		// attempt and retry.
		logger.Warn("Login outcome undetectable", "attempt", attempt)
		page.ClearIn(frame, inputs)
	}

	return fmt.Errorf("%w: credentials rejected after %d attempts", ErrLoginFailed, m.retryAttempts)
}

func (m *Machine) fillAndSubmit(page browser.Page, frame string, credentials Credentials) error {
	if err := page.FillIn(frame, m.markers.EmailInput, credentials.Email); err != nil {
		return err
	}
	if err := page.FillIn(frame, m.markers.PasswordInput, credentials.Password); err != nil {
		return err
	}
	return page.ClickIn(frame, m.markers.ContinueButton)
}

func (m *Machine) findErrorMessage(page browser.Page, frame string) string {
	scopes := []string{""}
	if frame != "" {
		scopes = append(scopes, frame)
	}
	for _, scope := range scopes {
		text, err := page.BodyTextIn(scope)
		if err != nil {
			continue
		}
		lowered := strings.ToLower(text)
		for _, fragment := range m.markers.ErrorTexts {
			if strings.Contains(lowered, fragment) {
				return fragment
			}
		}
	}
	return ""
}

func (m *Machine) challengeOffered(page browser.Page, frame string) bool {
	if page.ExistsIn("", m.markers.TextCodeButton) || page.ExistsIn("", m.markers.CodeInput) {
		return true
	}
	if frame != "" {
		return page.ExistsIn(frame, m.markers.TextCodeButton) || page.ExistsIn(frame, m.markers.CodeInput)
	}
	return false
}

// completeChallenge requests the code to be sent, acquires it from the
// supplier (the suspension point) and submits it.
func (m *Machine) completeChallenge(ctx context.Context, page browser.Page, frame string, creds CredentialSupplier, logger *slog.Logger) error {
	scope := ""
	if page.ExistsIn("", m.markers.TextCodeButton) {
		page.ClickIn("", m.markers.TextCodeButton)
	} else if frame != "" && page.ExistsIn(frame, m.markers.TextCodeButton) {
		scope = frame
		page.ClickIn(frame, m.markers.TextCodeButton)
	}
	page.Sleep(time.Second)

	code, err := creds.OneTimeCode(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}

	if !page.ExistsIn(scope, m.markers.CodeInput) && scope == "" && frame != "" {
		scope = frame
	}
	if err := page.FillIn(scope, m.markers.CodeInput, code); err != nil {
		return fmt.Errorf("%w: code input not found: %v", ErrLoginFailed, err)
	}
	if err := page.ClickIn(scope, m.markers.SubmitCodeButton); err != nil {
		return fmt.Errorf("%w: code submit control not found: %v", ErrLoginFailed, err)
	}
	page.Sleep(2 * time.Second)

	logger.Info("One-time code submitted")
	return nil
}

// detectLoginSuccess checks the success indicators in priority order: URL
// fragments first, then authenticated DOM markers. First match wins; no
// match is fatal.
func (m *Machine) detectLoginSuccess(page browser.Page, logger *slog.Logger) error {
	for probe := 0; probe < 3; probe++ {
		url, err := page.Location()
		if err == nil {
			if match, ok := browser.MatchesAny(url, m.markers.SuccessURLFragments); ok {
				logger.Info("Login confirmed", "indicator", match)
				return nil
			}
		}
		page.Sleep(time.Second)
	}

	for _, sel := range m.markers.AuthenticatedSelectors {
		if page.Exists(sel, m.probeTimeout) {
			logger.Info("Login confirmed", "indicator", sel)
			return nil
		}
	}

	return fmt.Errorf("%w: no success indicator located after code submission", ErrLoginFailed)
}

// persistState snapshots and saves the storage state. A save failure is
// logged, not fatal: the session simply won't be restorable next run.
func (m *Machine) persistState(ctx context.Context, accountID int64, page browser.Page, logger *slog.Logger) {
	blob, err := page.ExportStorageState()
	if err != nil {
		logger.Warn("Failed to export storage state", "error", err)
		return
	}
	sessionID, err := m.store.Save(ctx, accountID, blob, Metadata{})
	if err != nil {
		logger.Warn("Failed to persist session", "error", err)
		return
	}
	logger.Info("Session persisted", "session_id", sessionID)
}
