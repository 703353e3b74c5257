// Package media acquires local audio/video, exposes it to the call, and
// derives whether the remote peer's video is currently showing.
package media

import (
	"context"
	"errors"
)

// Kind is a track kind.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Constraints selects which kinds of local media to capture.
type Constraints struct {
	Audio bool
	Video bool
}

var (
	// ErrPermissionDenied mirrors a user refusing camera/microphone access.
	ErrPermissionDenied = errors.New("media permission denied")

	// ErrNothingRequested is returned when Constraints asks for no tracks.
	ErrNothingRequested = errors.New("no audio or video requested")
)

// Device captures local media. Implementations hold capture hardware from
// GetUserMedia until every returned track is stopped.
type Device interface {
	GetUserMedia(ctx context.Context, c Constraints) (*Stream, error)
}
