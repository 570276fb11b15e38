package telegram

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the auth and media paths.
var (
	// ErrInvalidState is returned when an auth call is made outside its
	// expected source state (e.g. SubmitCode while disconnected).
	ErrInvalidState = errors.New("invalid auth state")

	// ErrNotConnected is returned when an API call needs a live client.
	ErrNotConnected = errors.New("telegram client not connected")

	// ErrNotFound is returned when a message or its media descriptor is
	// missing remotely.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedMedia is returned when a message carries media that is
	// not a downloadable document.
	ErrUnsupportedMedia = errors.New("unsupported media")
)

// FloodWaitError carries the mandatory wait duration from a FLOOD_WAIT
// signal. The same call may be retried after the wait; it is never a failure.
type FloodWaitError struct {
	Wait time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait %s", e.Wait)
}

// AsFloodWait extracts the wait duration if err is a flood-wait signal.
func AsFloodWait(err error) (time.Duration, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Wait, true
	}
	return 0, false
}
