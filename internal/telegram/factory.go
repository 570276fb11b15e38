package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/session"
	tgclient "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

// connectTimeout bounds how long client startup may block.
const connectTimeout = 30 * time.Second

// ErrPasswordNeeded is the distinguished second-factor signal: sign-in with
// a valid code succeeded but the account requires a cloud password.
var ErrPasswordNeeded = errors.New("second factor password required")

// authClient abstracts the connected MTProto client so the session manager
// state machine can be driven without a network in tests.
type authClient interface {
	SendCode(ctx context.Context, phone string) (codeHash string, err error)
	SignIn(ctx context.Context, phone, code, codeHash string) error
	SignInWithPassword(ctx context.Context, password string) error
	Authorized(ctx context.Context) (bool, error)
	Self(ctx context.Context) (username string, err error)
	LogOut(ctx context.Context) error
	API() *tg.Client
	Close()
}

// clientFactory opens a connection and returns a live client.
type clientFactory func(apiID int, apiHash string, storage session.Storage) (authClient, error)

// gotdClient is the production authClient over gotd's telegram.Client.
// The client's Run loop is kept alive in a background goroutine until Close.
type gotdClient struct {
	client *tgclient.Client
	cancel context.CancelFunc
	done   chan struct{}
}

// newGotdClient connects a gotd client using the given session storage and
// blocks until it is ready to serve API calls.
func newGotdClient(apiID int, apiHash string, storage session.Storage) (authClient, error) {
	client := tgclient.NewClient(apiID, apiHash, tgclient.Options{
		SessionStorage: storage,
	})

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	errc := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		err := client.Run(ctx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil {
			select {
			case errc <- err:
			default:
			}
		}
	}()

	select {
	case <-ready:
		return &gotdClient{client: client, cancel: cancel, done: done}, nil
	case err := <-errc:
		cancel()
		return nil, fmt.Errorf("connect: %w", err)
	case <-time.After(connectTimeout):
		cancel()
		return nil, errors.New("connect timeout")
	}
}

func (g *gotdClient) SendCode(ctx context.Context, phone string) (string, error) {
	sent, err := g.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", fmt.Errorf("send code: %w", err)
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return "", fmt.Errorf("unexpected sent code response %T", sent)
	}
	return code.PhoneCodeHash, nil
}

func (g *gotdClient) SignIn(ctx context.Context, phone, code, codeHash string) error {
	_, err := g.client.Auth().SignIn(ctx, phone, code, codeHash)
	if errors.Is(err, auth.ErrPasswordAuthNeeded) {
		return ErrPasswordNeeded
	}
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	return nil
}

func (g *gotdClient) SignInWithPassword(ctx context.Context, password string) error {
	if _, err := g.client.Auth().Password(ctx, password); err != nil {
		return fmt.Errorf("password sign in: %w", err)
	}
	return nil
}

func (g *gotdClient) Authorized(ctx context.Context) (bool, error) {
	status, err := g.client.Auth().Status(ctx)
	if err != nil {
		return false, fmt.Errorf("auth status: %w", err)
	}
	return status.Authorized, nil
}

func (g *gotdClient) Self(ctx context.Context) (string, error) {
	user, err := g.client.Self(ctx)
	if err != nil {
		return "", fmt.Errorf("get self: %w", err)
	}
	return user.Username, nil
}

func (g *gotdClient) LogOut(ctx context.Context) error {
	if _, err := g.client.API().AuthLogOut(ctx); err != nil {
		return fmt.Errorf("log out: %w", err)
	}
	return nil
}

func (g *gotdClient) API() *tg.Client {
	return g.client.API()
}

// Close stops the Run loop and waits briefly for it to exit.
func (g *gotdClient) Close() {
	g.cancel()
	select {
	case <-g.done:
	case <-time.After(5 * time.Second):
	}
}
