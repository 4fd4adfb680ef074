/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package captions

import (
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Lobby is one game session. All exported methods are safe for concurrent
// use; each one runs under the lobby mutex.
type Lobby struct {
	code  string
	rules Rules

	mu         sync.Mutex
	hostID     string
	players    []*Player
	nextSeq    uint64
	images     []Image
	status     Status
	phase      Phase
	round      int
	image      *Image
	captions   []Caption
	votes      []Vote
	timer      Timer
	epoch      uint64
	closed     bool
	lastActive time.Time

	clock     Clock
	publisher Publisher
	log       *zap.Logger
	rng       *rand.Rand
	newID     func() string
	onEmpty   func(*Lobby)
}

func (l *Lobby) Code() string {
	return l.code
}

func (l *Lobby) Rules() Rules {
	return l.rules
}

func (l *Lobby) LastActive() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.lastActive
}

// View returns a copy of the lobby's current state.
func (l *Lobby) View() LobbyView {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.viewLocked()
}

func validName(name string, limit int) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || (limit > 0 && utf8.RuneCountInString(name) > limit) {
		return "", ErrInvalidName
	}
	return name, nil
}

// Join adds a player. Names are compared case-sensitively against the
// players currently in the lobby.
func (l *Lobby) Join(playerID, name string) (Player, error) {
	name, err := validName(name, l.rules.MaxNameLength)
	if err != nil {
		return Player{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.closed:
		return Player{}, ErrLobbyNotFound
	case len(l.players) >= l.rules.MaxPlayers:
		return Player{}, ErrLobbyFull
	case l.status != StatusWaiting:
		return Player{}, ErrGameInProgress
	case l.indexLocked(playerID) >= 0:
		return Player{}, ErrAlreadyJoined
	}

	for _, p := range l.players {
		if p.Name == name {
			return Player{}, ErrNameTaken
		}
	}

	p := l.addPlayerLocked(playerID, name)
	l.touchLocked()

	l.log.Info("player joined",
		zap.String("player", playerID),
		zap.String("name", name),
		zap.Int("players", len(l.players)),
	)

	l.publishLocked(EventLobbyUpdate, l.viewLocked())

	return *p, nil
}

// Leave removes a player. The host role passes to the earliest joined
// remaining player. When the last player leaves the lobby closes and is
// dropped from its registry. Captions and votes already cast this round
// are kept.
func (l *Lobby) Leave(playerID string) {
	l.mu.Lock()

	if l.closed {
		l.mu.Unlock()
		return
	}

	idx := l.indexLocked(playerID)
	if idx < 0 {
		l.mu.Unlock()
		return
	}

	gone := l.players[idx]
	l.players = slices.Delete(l.players, idx, idx+1)
	l.touchLocked()

	l.log.Info("player left",
		zap.String("player", playerID),
		zap.Int("players", len(l.players)),
		zap.String("phase", string(l.phase)),
	)

	if len(l.players) == 0 {
		l.closeLocked()
		l.mu.Unlock()

		if l.onEmpty != nil {
			l.onEmpty(l)
		}
		return
	}

	if gone.IsHost {
		l.promoteHostLocked()
	}

	l.publishLocked(EventLobbyUpdate, l.viewLocked())
	l.advanceIfCompleteLocked()

	l.mu.Unlock()
}

// UploadImage records an image that has already been stored elsewhere.
func (l *Lobby) UploadImage(uploaderID, name, url string) (Image, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return Image{}, ErrInvalidImage
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = "image"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return Image{}, ErrLobbyNotFound
	}
	if l.indexLocked(uploaderID) < 0 {
		return Image{}, ErrUnknownPlayer
	}

	img := Image{
		ID:         l.newID(),
		Name:       name,
		URL:        url,
		UploadedBy: uploaderID,
	}
	l.images = append(l.images, img)
	l.touchLocked()

	l.log.Debug("image uploaded", zap.String("player", uploaderID), zap.Int("images", len(l.images)))

	l.publishLocked(EventImageUploaded, ImageList{Images: slices.Clone(l.images)})

	return img, nil
}

// StartGame begins round one. A finished lobby may be restarted, which
// resets every score.
func (l *Lobby) StartGame(requesterID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.closed:
		return ErrLobbyNotFound
	case requesterID != l.hostID:
		return ErrNotHost
	case l.status == StatusPlaying:
		return ErrGameInProgress
	case len(l.players) < l.rules.MinPlayers:
		return ErrNotEnoughPlayers
	}

	if l.status == StatusFinished {
		for _, p := range l.players {
			p.Score = 0
		}
	}

	l.status = StatusPlaying
	l.round = 1
	l.phase = PhaseCaption
	l.touchLocked()

	l.log.Info("game started", zap.Int("players", len(l.players)), zap.Int("rounds", l.rules.TotalRounds))

	l.publishLocked(EventGameStarted, l.viewLocked())
	l.startRoundLocked()

	return nil
}

// SubmitCaption stores or replaces the player's caption for this round.
func (l *Lobby) SubmitCaption(playerID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > l.rules.MaxCaptionLength {
		return ErrInvalidCaption
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.closed:
		return ErrLobbyNotFound
	case l.phase != PhaseCaption:
		return ErrInvalidPhase
	}

	idx := l.indexLocked(playerID)
	if idx < 0 {
		return ErrUnknownPlayer
	}

	if i := l.captionByAuthorLocked(playerID); i >= 0 {
		l.captions[i].Text = text
	} else {
		l.captions = append(l.captions, Caption{
			ID:         l.newID(),
			PlayerID:   playerID,
			PlayerName: l.players[idx].Name,
			Text:       text,
		})
	}
	l.touchLocked()

	l.publishLocked(EventCaptionSubmitted, CaptionSubmitted{PlayerID: playerID, Caption: text})
	l.advanceIfCompleteLocked()

	return nil
}

// VoteCaption records or moves the player's vote for this round.
func (l *Lobby) VoteCaption(playerID, captionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.closed:
		return ErrLobbyNotFound
	case l.phase != PhaseVoting:
		return ErrInvalidPhase
	case l.indexLocked(playerID) < 0:
		return ErrUnknownPlayer
	}

	target := l.captionIndexLocked(captionID)
	if target < 0 {
		return ErrUnknownCaption
	}

	if i := l.voteByPlayerLocked(playerID); i >= 0 {
		prev := l.votes[i].CaptionID
		if prev != captionID {
			if old := l.captionIndexLocked(prev); old >= 0 {
				l.captions[old].Votes--
			}
			l.captions[target].Votes++
			l.votes[i].CaptionID = captionID
		}
	} else {
		l.votes = append(l.votes, Vote{PlayerID: playerID, CaptionID: captionID})
		l.captions[target].Votes++
	}
	l.touchLocked()

	l.publishLocked(EventVoteSubmitted, VoteSubmitted{PlayerID: playerID, CaptionID: captionID})
	l.advanceIfCompleteLocked()

	return nil
}

// Close stops the lobby's timer and rejects further operations. It does
// not notify the registry.
func (l *Lobby) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closeLocked()
}

func (l *Lobby) closeLocked() {
	if l.closed {
		return
	}
	l.closed = true
	l.cancelTimerLocked()
	l.log.Debug("lobby closed")
}

func (l *Lobby) addPlayerLocked(id, name string) *Player {
	p := &Player{
		ID:     id,
		Name:   name,
		IsHost: len(l.players) == 0,
		seq:    l.nextSeq,
	}
	l.nextSeq++

	if p.IsHost {
		l.hostID = id
	}
	l.players = append(l.players, p)

	return p
}

// promoteHostLocked hands the host role to the earliest joined player.
// Score sorting reorders l.players, so join order comes from seq.
func (l *Lobby) promoteHostLocked() {
	next := l.players[0]
	for _, p := range l.players[1:] {
		if p.seq < next.seq {
			next = p
		}
	}

	next.IsHost = true
	l.hostID = next.ID

	l.log.Info("host reassigned", zap.String("player", next.ID))
}

func (l *Lobby) touchLocked() {
	l.lastActive = l.clock.Now()
}

func (l *Lobby) indexLocked(playerID string) int {
	return slices.IndexFunc(l.players, func(p *Player) bool { return p.ID == playerID })
}

func (l *Lobby) captionIndexLocked(captionID string) int {
	return slices.IndexFunc(l.captions, func(c Caption) bool { return c.ID == captionID })
}

func (l *Lobby) captionByAuthorLocked(playerID string) int {
	return slices.IndexFunc(l.captions, func(c Caption) bool { return c.PlayerID == playerID })
}

func (l *Lobby) voteByPlayerLocked(playerID string) int {
	return slices.IndexFunc(l.votes, func(v Vote) bool { return v.PlayerID == playerID })
}

func (l *Lobby) playersLocked() []Player {
	out := make([]Player, len(l.players))
	for i, p := range l.players {
		out[i] = *p
	}
	return out
}

func (l *Lobby) viewLocked() LobbyView {
	v := LobbyView{
		Code:         l.code,
		HostID:       l.hostID,
		Players:      l.playersLocked(),
		Status:       l.status,
		Phase:        l.phase,
		MaxPlayers:   l.rules.MaxPlayers,
		CurrentRound: l.round,
		TotalRounds:  l.rules.TotalRounds,
		Images:       slices.Clone(l.images),
	}
	if v.Images == nil {
		v.Images = []Image{}
	}
	if l.image != nil {
		img := *l.image
		v.CurrentImage = &img
	}
	return v
}

func (l *Lobby) publishLocked(typ string, payload any) {
	l.publisher.Publish(l.code, Event{Type: typ, Payload: payload})
}
