// Package telegram provides the Telegram MTProto client wrapper: the login
// state machine with session persistence, rate-limited API access and
// chunked media streaming.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gotd/td/tg"

	"github.com/telegrab/telegrab/internal/logger"
)

// State represents the process-wide auth state for this source.
type State string

// Auth states. Exactly one value holds at a time.
const (
	StateDisconnected    State = "disconnected"
	StateAuthenticating  State = "authenticating"
	StateWaitingCode     State = "waiting_code"
	StateWaitingPassword State = "waiting_password"
	StateConnected       State = "connected"
)

// StatusInfo is a side-effect-free snapshot of the session state.
// Username is captured once at connect time so reads never touch the network.
type StatusInfo struct {
	State    State  `json:"state"`
	Username string `json:"username,omitempty"`
}

// SessionManager drives the multi-step login state machine and owns the
// lifetime of the underlying MTProto client.
//
// Transitions:
//
//	disconnected --StartAuth--> authenticating --(code sent)--> waiting_code
//	waiting_code --SubmitCode--> connected | waiting_password
//	waiting_password --SubmitPassword--> connected
//	connected --Logout--> disconnected
//
// Calls made outside their expected source state fail with ErrInvalidState.
type SessionManager struct {
	mu    sync.Mutex
	state State

	sessions *SessionStore
	factory  clientFactory
	log      *logger.Logger

	client   authClient
	phone    string
	codeHash string
	username string

	onConnected func()
}

// NewSessionManager creates a session manager in the disconnected state.
func NewSessionManager(sessions *SessionStore) *SessionManager {
	return &SessionManager{
		state:    StateDisconnected,
		sessions: sessions,
		factory:  newGotdClient,
		log:      logger.Get(),
	}
}

// SetOnConnected registers the callback invoked (in its own goroutine) every
// time the manager reaches the connected state. The callback must be
// idempotent; it fires on both fresh logins and session restores.
func (m *SessionManager) SetOnConnected(cb func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = cb
}

// setClientFactory overrides client creation for tests.
func (m *SessionManager) setClientFactory(f clientFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factory = f
}

// Status returns the current state without side effects.
func (m *SessionManager) Status() StatusInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return StatusInfo{State: m.state, Username: m.username}
}

// API returns the raw tg.Client for direct API calls.
func (m *SessionManager) API() (*tg.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil || m.state != StateConnected {
		return nil, ErrNotConnected
	}
	return m.client.API(), nil
}

// StartAuth opens a connection, requests a one-time login code and persists
// the application credentials for future session restores.
func (m *SessionManager) StartAuth(ctx context.Context, apiID int, apiHash, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateDisconnected {
		return fmt.Errorf("%w: start auth from %s", ErrInvalidState, m.state)
	}
	m.state = StateAuthenticating

	if err := m.sessions.SaveCredentials(ctx, apiID, apiHash, phone); err != nil {
		m.state = StateDisconnected
		return err
	}

	client, err := m.factory(apiID, apiHash, m.sessions)
	if err != nil {
		m.state = StateDisconnected
		return fmt.Errorf("open connection: %w", err)
	}

	codeHash, err := client.SendCode(ctx, phone)
	if err != nil {
		client.Close()
		m.state = StateDisconnected
		return fmt.Errorf("request code: %w", err)
	}

	m.client = client
	m.phone = phone
	m.codeHash = codeHash
	m.state = StateWaitingCode

	m.log.Info().Str("phone", phone).Msg("auth: code sent, waiting for user input")
	return nil
}

// SubmitCode attempts sign-in with the one-time code. A second-factor
// requirement transitions to waiting_password and is not a failure. Any
// other rejection keeps the waiting_code state so the code can be retried.
func (m *SessionManager) SubmitCode(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateWaitingCode {
		return fmt.Errorf("%w: submit code from %s", ErrInvalidState, m.state)
	}

	err := m.client.SignIn(ctx, m.phone, code, m.codeHash)
	if errors.Is(err, ErrPasswordNeeded) {
		m.state = StateWaitingPassword
		m.log.Info().Msg("auth: second factor required")
		return nil
	}
	if err != nil {
		return err
	}

	m.completeLocked(ctx)
	return nil
}

// SubmitPassword completes second-factor sign-in.
func (m *SessionManager) SubmitPassword(ctx context.Context, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateWaitingPassword {
		return fmt.Errorf("%w: submit password from %s", ErrInvalidState, m.state)
	}

	if err := m.client.SignInWithPassword(ctx, password); err != nil {
		return err
	}

	m.completeLocked(ctx)
	return nil
}

// Logout closes the connection and clears only the persisted session blob.
// Credentials are kept for the next login.
func (m *SessionManager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected {
		return fmt.Errorf("%w: logout from %s", ErrInvalidState, m.state)
	}

	if err := m.client.LogOut(ctx); err != nil {
		m.log.Warn().Err(err).Msg("auth: remote logout failed, closing anyway")
	}
	m.client.Close()
	m.client = nil

	if err := m.sessions.ClearSession(ctx); err != nil {
		m.log.Warn().Err(err).Msg("auth: failed to clear session blob")
	}

	m.username = ""
	m.state = StateDisconnected
	m.log.Info().Msg("auth: logged out")
	return nil
}

// Restore reconnects directly to the connected state when a persisted
// session blob and credentials exist. No code or password step is required.
// When nothing is persisted, the manager simply stays disconnected.
func (m *SessionManager) Restore(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateDisconnected {
		return nil
	}

	creds, err := m.sessions.LoadCredentials(ctx)
	if err != nil {
		return err
	}
	if creds == nil || !m.sessions.HasSession(ctx) {
		m.log.Info().Msg("auth: no persisted session, waiting for login")
		return nil
	}

	client, err := m.factory(creds.APIID, creds.APIHash, m.sessions)
	if err != nil {
		return fmt.Errorf("restore connection: %w", err)
	}

	authorized, err := client.Authorized(ctx)
	if err != nil || !authorized {
		client.Close()
		if err != nil {
			return fmt.Errorf("restore auth status: %w", err)
		}
		m.log.Warn().Msg("auth: persisted session no longer authorized")
		return nil
	}

	m.client = client
	m.phone = creds.Phone
	m.completeLocked(ctx)
	m.log.Info().Str("username", m.username).Msg("auth: session restored")
	return nil
}

// Stop closes the client connection without touching persisted state.
func (m *SessionManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	if m.state != StateDisconnected {
		m.state = StateDisconnected
	}
}

// completeLocked finishes a successful sign-in: captures the identity for
// non-blocking status reads and fires the connected callback.
// Caller must hold m.mu.
func (m *SessionManager) completeLocked(ctx context.Context) {
	m.state = StateConnected
	m.codeHash = ""

	if username, err := m.client.Self(ctx); err == nil {
		m.username = username
	}

	if cb := m.onConnected; cb != nil {
		go cb()
	}
}
