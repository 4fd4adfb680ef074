/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package captions

import (
	"slices"
	"time"

	"go.uber.org/zap"
)

// Round phases advance caption -> voting -> results, then either back to
// caption for the next round or to finished. Every transition runs under
// l.mu and replaces the pending timer in the same critical section.

func (l *Lobby) startRoundLocked() {
	l.phase = PhaseCaption
	l.captions = nil
	l.votes = nil
	l.image = nil

	if n := len(l.images); n > 0 {
		img := l.images[l.rng.IntN(n)]
		l.image = &img
	}

	l.armLocked(l.rules.CaptionDuration, l.enterVotingLocked)

	l.log.Info("round started",
		zap.Int("round", l.round),
		zap.Bool("image", l.image != nil),
	)

	var img *Image
	if l.image != nil {
		c := *l.image
		img = &c
	}

	l.publishLocked(EventRoundStarted, RoundStarted{
		Round:    l.round,
		Image:    img,
		Phase:    PhaseCaption,
		TimeLeft: seconds(l.rules.CaptionDuration),
	})
}

func (l *Lobby) enterVotingLocked() {
	l.phase = PhaseVoting

	shuffled := slices.Clone(l.captions)
	if shuffled == nil {
		shuffled = []Caption{}
	}
	l.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	l.armLocked(l.rules.VotingDuration, l.endRoundLocked)

	l.log.Info("voting started",
		zap.Int("round", l.round),
		zap.Int("captions", len(l.captions)),
	)

	l.publishLocked(EventVotingStarted, VotingStarted{
		Captions: shuffled,
		Phase:    PhaseVoting,
		TimeLeft: seconds(l.rules.VotingDuration),
	})
}

func (l *Lobby) endRoundLocked() {
	l.phase = PhaseResults
	l.cancelTimerLocked()

	Score(l.players, l.captions, l.votes)
	slices.SortStableFunc(l.players, func(a, b *Player) int {
		return b.Score - a.Score
	})

	l.log.Info("round finished",
		zap.Int("round", l.round),
		zap.Int("votes", len(l.votes)),
	)

	captions := slices.Clone(l.captions)
	if captions == nil {
		captions = []Caption{}
	}
	votes := slices.Clone(l.votes)
	if votes == nil {
		votes = []Vote{}
	}

	l.publishLocked(EventRoundResults, RoundResults{
		Round:    l.round,
		Captions: captions,
		Votes:    votes,
		Players:  l.playersLocked(),
		Phase:    PhaseResults,
	})

	if l.round >= l.rules.TotalRounds {
		l.finishLocked()
		return
	}

	l.armLocked(l.rules.ResultsDuration, l.nextRoundLocked)
}

func (l *Lobby) nextRoundLocked() {
	l.round++
	l.startRoundLocked()
}

func (l *Lobby) finishLocked() {
	l.status = StatusFinished
	l.phase = PhaseFinished
	l.cancelTimerLocked()

	players := l.playersLocked()
	scores := make([]FinalScore, len(players))
	for i, p := range players {
		scores[i] = FinalScore{Name: p.Name, Score: p.Score}
	}

	l.log.Info("game ended", zap.Int("rounds", l.round))

	l.publishLocked(EventGameEnded, GameEnded{
		Players:     players,
		FinalScores: scores,
	})
}

// advanceIfCompleteLocked ends the caption or voting phase early once every
// current player has responded.
func (l *Lobby) advanceIfCompleteLocked() {
	if len(l.players) == 0 {
		return
	}

	switch l.phase {
	case PhaseCaption:
		if l.respondedLocked(func(id string) bool { return l.captionByAuthorLocked(id) >= 0 }) {
			l.enterVotingLocked()
		}
	case PhaseVoting:
		if l.respondedLocked(func(id string) bool { return l.voteByPlayerLocked(id) >= 0 }) {
			l.endRoundLocked()
		}
	}
}

func (l *Lobby) respondedLocked(has func(playerID string) bool) bool {
	for _, p := range l.players {
		if !has(p.ID) {
			return false
		}
	}
	return true
}

// armLocked replaces the pending timer with one that runs fire after d.
// A timer whose epoch or phase no longer matches when it fires does nothing,
// which covers fires racing with an early transition.
func (l *Lobby) armLocked(d time.Duration, fire func()) {
	l.cancelTimerLocked()

	epoch, phase := l.epoch, l.phase
	l.timer = l.clock.AfterFunc(d, func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		if l.closed || l.epoch != epoch || l.phase != phase {
			l.log.Debug("stale phase timer ignored", zap.String("phase", string(phase)))
			return
		}

		l.timer = nil
		l.touchLocked()
		fire()
	})
}

func (l *Lobby) cancelTimerLocked() {
	l.epoch++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}
