/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package captions implements the caption game session engine.
//
// Players gather in a lobby identified by a short shareable code, upload
// images, and play timed rounds: every player writes a caption for the
// round's image, everyone votes for their favourite, and votes turn into
// points. After the configured number of rounds the highest score wins.
//
// Every Lobby serializes its own mutations behind a mutex, phase timers
// included, so operations on different lobbies never contend. State changes
// are announced through a Publisher while the lobby lock is held, which keeps
// every member's event stream in mutation order.
package captions

import "time"

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhaseCaption  Phase = "caption"
	PhaseVoting   Phase = "voting"
	PhaseResults  Phase = "results"
	PhaseFinished Phase = "finished"
)

// Player is a lobby member. ID is the connection id supplied by the gateway.
type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
	Score  int    `json:"score"`

	// join order, survives score sorting
	seq uint64
}

type Image struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	UploadedBy string `json:"uploadedBy"`
}

// Caption is one player's entry for the current round. Votes always equals
// the number of round votes targeting ID.
type Caption struct {
	ID         string `json:"id"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Text       string `json:"text"`
	Votes      int    `json:"votes"`
}

type Vote struct {
	PlayerID  string `json:"playerId"`
	CaptionID string `json:"captionId"`
}

// Rules are fixed for the lifetime of a lobby.
type Rules struct {
	MaxPlayers       int
	MinPlayers       int
	TotalRounds      int
	CaptionDuration  time.Duration
	VotingDuration   time.Duration
	ResultsDuration  time.Duration
	MaxCaptionLength int
	MaxNameLength    int
}

func DefaultRules() Rules {
	return Rules{
		MaxPlayers:       8,
		MinPlayers:       3,
		TotalRounds:      5,
		CaptionDuration:  60 * time.Second,
		VotingDuration:   30 * time.Second,
		ResultsDuration:  10 * time.Second,
		MaxCaptionLength: 200,
		MaxNameLength:    32,
	}
}
