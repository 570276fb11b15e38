package telegram

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/tg"

	"github.com/telegrab/telegrab/internal/database"
)

// fakeAuthClient drives the state machine without a network.
type fakeAuthClient struct {
	needPassword bool
	signInErr    error
	passwordErr  error
	authorized   bool
	username     string

	storage   session.Storage
	signedIn  bool
	loggedOut bool
	closed    bool
}

func (f *fakeAuthClient) SendCode(ctx context.Context, phone string) (string, error) {
	return "code-hash-1", nil
}

func (f *fakeAuthClient) SignIn(ctx context.Context, phone, code, codeHash string) error {
	if f.signInErr != nil {
		return f.signInErr
	}
	if f.needPassword {
		return ErrPasswordNeeded
	}
	f.complete(ctx)
	return nil
}

func (f *fakeAuthClient) SignInWithPassword(ctx context.Context, password string) error {
	if f.passwordErr != nil {
		return f.passwordErr
	}
	f.complete(ctx)
	return nil
}

// complete mimics gotd writing the session blob back on successful sign-in.
func (f *fakeAuthClient) complete(ctx context.Context) {
	f.signedIn = true
	if f.storage != nil {
		_ = f.storage.StoreSession(ctx, []byte("opaque-session-blob"))
	}
}

func (f *fakeAuthClient) Authorized(ctx context.Context) (bool, error) {
	return f.authorized || f.signedIn, nil
}

func (f *fakeAuthClient) Self(ctx context.Context) (string, error) {
	return f.username, nil
}

func (f *fakeAuthClient) LogOut(ctx context.Context) error {
	f.loggedOut = true
	return nil
}

func (f *fakeAuthClient) API() *tg.Client { return nil }

func (f *fakeAuthClient) Close() { f.closed = true }

func newTestManager(t *testing.T, client *fakeAuthClient) (*SessionManager, *SessionStore) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	sessions := NewSessionStore(db)
	m := NewSessionManager(sessions)
	m.setClientFactory(func(apiID int, apiHash string, storage session.Storage) (authClient, error) {
		client.storage = storage
		return client, nil
	})
	return m, sessions
}

func TestStartAuth_WaitsForCode(t *testing.T) {
	m, sessions := newTestManager(t, &fakeAuthClient{})
	ctx := context.Background()

	if err := m.StartAuth(ctx, 12345, "hash", "+15551234567"); err != nil {
		t.Fatalf("StartAuth() error: %v", err)
	}
	if got := m.Status().State; got != StateWaitingCode {
		t.Errorf("state = %s, want %s", got, StateWaitingCode)
	}

	// credentials are persisted immediately for later restores
	creds, err := sessions.LoadCredentials(ctx)
	if err != nil || creds == nil {
		t.Fatalf("LoadCredentials() = %v, %v", creds, err)
	}
	if creds.APIID != 12345 || creds.Phone != "+15551234567" {
		t.Errorf("persisted credentials = %+v", creds)
	}

	// a second StartAuth mid-flow is an invalid transition
	if err := m.StartAuth(ctx, 12345, "hash", "+15551234567"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("re-entrant StartAuth() error = %v, want ErrInvalidState", err)
	}
}

func TestStartAuth_FactoryFailureReturnsToDisconnected(t *testing.T) {
	m, _ := newTestManager(t, &fakeAuthClient{})
	m.setClientFactory(func(apiID int, apiHash string, storage session.Storage) (authClient, error) {
		return nil, errors.New("dial failed")
	})

	if err := m.StartAuth(context.Background(), 1, "h", "+1"); err == nil {
		t.Fatal("StartAuth() expected error")
	}
	if got := m.Status().State; got != StateDisconnected {
		t.Errorf("state = %s, want %s", got, StateDisconnected)
	}
}

func TestSubmitCode_Connects(t *testing.T) {
	client := &fakeAuthClient{username: "alice"}
	m, sessions := newTestManager(t, client)
	ctx := context.Background()

	var connected atomic.Int32
	m.SetOnConnected(func() { connected.Add(1) })

	if err := m.StartAuth(ctx, 1, "h", "+1"); err != nil {
		t.Fatalf("StartAuth() error: %v", err)
	}
	if err := m.SubmitCode(ctx, "12345"); err != nil {
		t.Fatalf("SubmitCode() error: %v", err)
	}

	status := m.Status()
	if status.State != StateConnected || status.Username != "alice" {
		t.Errorf("status = %+v", status)
	}
	if !sessions.HasSession(ctx) {
		t.Error("session blob not persisted after sign-in")
	}

	// callback fires asynchronously
	deadline := time.Now().Add(time.Second)
	for connected.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if connected.Load() != 1 {
		t.Errorf("onConnected fired %d times, want 1", connected.Load())
	}
}

func TestSubmitCode_SecondFactor(t *testing.T) {
	client := &fakeAuthClient{needPassword: true, username: "bob"}
	m, _ := newTestManager(t, client)
	ctx := context.Background()

	if err := m.StartAuth(ctx, 1, "h", "+1"); err != nil {
		t.Fatalf("StartAuth() error: %v", err)
	}

	// the second-factor requirement is not a failure
	if err := m.SubmitCode(ctx, "12345"); err != nil {
		t.Fatalf("SubmitCode() error: %v", err)
	}
	if got := m.Status().State; got != StateWaitingPassword {
		t.Fatalf("state = %s, want %s", got, StateWaitingPassword)
	}

	if err := m.SubmitPassword(ctx, "hunter2"); err != nil {
		t.Fatalf("SubmitPassword() error: %v", err)
	}
	if got := m.Status(); got.State != StateConnected || got.Username != "bob" {
		t.Errorf("status = %+v", got)
	}
}

func TestSubmitCode_RejectionKeepsWaitingCode(t *testing.T) {
	client := &fakeAuthClient{signInErr: errors.New("PHONE_CODE_INVALID")}
	m, _ := newTestManager(t, client)
	ctx := context.Background()

	if err := m.StartAuth(ctx, 1, "h", "+1"); err != nil {
		t.Fatalf("StartAuth() error: %v", err)
	}
	if err := m.SubmitCode(ctx, "00000"); err == nil {
		t.Fatal("SubmitCode() expected error")
	}
	if got := m.Status().State; got != StateWaitingCode {
		t.Errorf("state = %s, want %s (code retryable)", got, StateWaitingCode)
	}

	// the right code still works
	client.signInErr = nil
	if err := m.SubmitCode(ctx, "12345"); err != nil {
		t.Fatalf("retried SubmitCode() error: %v", err)
	}
	if got := m.Status().State; got != StateConnected {
		t.Errorf("state = %s, want %s", got, StateConnected)
	}
}

func TestSubmitCode_InvalidState(t *testing.T) {
	m, _ := newTestManager(t, &fakeAuthClient{})

	if err := m.SubmitCode(context.Background(), "123"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("SubmitCode() error = %v, want ErrInvalidState", err)
	}
	if err := m.SubmitPassword(context.Background(), "pw"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("SubmitPassword() error = %v, want ErrInvalidState", err)
	}
	if err := m.Logout(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Logout() error = %v, want ErrInvalidState", err)
	}
}

func TestLogout_ClearsBlobKeepsCredentials(t *testing.T) {
	client := &fakeAuthClient{}
	m, sessions := newTestManager(t, client)
	ctx := context.Background()

	if err := m.StartAuth(ctx, 1, "h", "+1"); err != nil {
		t.Fatalf("StartAuth() error: %v", err)
	}
	if err := m.SubmitCode(ctx, "12345"); err != nil {
		t.Fatalf("SubmitCode() error: %v", err)
	}

	if err := m.Logout(ctx); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}
	if got := m.Status().State; got != StateDisconnected {
		t.Errorf("state = %s, want %s", got, StateDisconnected)
	}
	if !client.loggedOut || !client.closed {
		t.Error("client not logged out and closed")
	}
	if sessions.HasSession(ctx) {
		t.Error("session blob must be cleared on logout")
	}
	creds, err := sessions.LoadCredentials(ctx)
	if err != nil || creds == nil {
		t.Error("credentials must survive logout")
	}
}

func TestRestore_ReconnectsPersistedSession(t *testing.T) {
	client := &fakeAuthClient{authorized: true, username: "carol"}
	m, sessions := newTestManager(t, client)
	ctx := context.Background()

	if err := sessions.SaveCredentials(ctx, 1, "h", "+1"); err != nil {
		t.Fatalf("SaveCredentials() error: %v", err)
	}
	if err := sessions.StoreSession(ctx, []byte("blob")); err != nil {
		t.Fatalf("StoreSession() error: %v", err)
	}

	if err := m.Restore(ctx); err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if got := m.Status(); got.State != StateConnected || got.Username != "carol" {
		t.Errorf("status = %+v", got)
	}
}

func TestRestore_NothingPersisted(t *testing.T) {
	m, _ := newTestManager(t, &fakeAuthClient{})

	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if got := m.Status().State; got != StateDisconnected {
		t.Errorf("state = %s, want %s", got, StateDisconnected)
	}
}

func TestRestore_UnauthorizedSessionStaysDisconnected(t *testing.T) {
	client := &fakeAuthClient{authorized: false}
	m, sessions := newTestManager(t, client)
	ctx := context.Background()

	if err := sessions.SaveCredentials(ctx, 1, "h", "+1"); err != nil {
		t.Fatalf("SaveCredentials() error: %v", err)
	}
	if err := sessions.StoreSession(ctx, []byte("stale")); err != nil {
		t.Fatalf("StoreSession() error: %v", err)
	}

	if err := m.Restore(ctx); err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if got := m.Status().State; got != StateDisconnected {
		t.Errorf("state = %s, want %s", got, StateDisconnected)
	}
	if !client.closed {
		t.Error("stale client must be closed")
	}
}
