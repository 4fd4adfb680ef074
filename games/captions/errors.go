/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package captions

import "errors"

// Client errors. These are reported to the caller that caused them and never
// change lobby state.
var (
	ErrLobbyNotFound    = errors.New("lobby not found")
	ErrLobbyFull        = errors.New("lobby is full")
	ErrGameInProgress   = errors.New("game already in progress")
	ErrNameTaken        = errors.New("player name already taken")
	ErrInvalidName      = errors.New("player name is empty or too long")
	ErrAlreadyJoined    = errors.New("already in this lobby")
	ErrNotHost          = errors.New("only host can start the game")
	ErrNotEnoughPlayers = errors.New("not enough players to start")
	ErrInvalidPhase     = errors.New("action not allowed in current phase")
	ErrUnknownPlayer    = errors.New("player is not in this lobby")
	ErrUnknownCaption   = errors.New("caption not found")
	ErrInvalidCaption   = errors.New("caption is empty or too long")
	ErrInvalidImage     = errors.New("image reference is missing")
)

// ErrCodeExhausted means no free lobby code was found in a bounded number of
// attempts.
var ErrCodeExhausted = errors.New("unable to allocate lobby code")

var clientErrors = []error{
	ErrLobbyNotFound,
	ErrLobbyFull,
	ErrGameInProgress,
	ErrNameTaken,
	ErrInvalidName,
	ErrAlreadyJoined,
	ErrNotHost,
	ErrNotEnoughPlayers,
	ErrInvalidPhase,
	ErrUnknownPlayer,
	ErrUnknownCaption,
	ErrInvalidCaption,
	ErrInvalidImage,
}

// IsClientError reports whether err was caused by the request rather than the
// server.
func IsClientError(err error) bool {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
