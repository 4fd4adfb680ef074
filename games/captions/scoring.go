/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package captions

const (
	// AuthorReward is earned by a caption's author for every vote it receives.
	AuthorReward = 2
	// VoterReward is earned once by every player who cast a vote.
	VoterReward = 1
)

// Tally returns the points each player earned from a round. Votes for
// captions that no longer exist still reward the voter. Self votes are
// counted like any other vote.
func Tally(captions []Caption, votes []Vote) map[string]int {
	authors := make(map[string]string, len(captions))
	for _, c := range captions {
		authors[c.ID] = c.PlayerID
	}

	points := make(map[string]int, len(votes))
	for _, v := range votes {
		if author, ok := authors[v.CaptionID]; ok {
			points[author] += AuthorReward
		}
		points[v.PlayerID] += VoterReward
	}

	return points
}

// Score adds the round's points to each player's total. Points owed to
// players who already left are discarded.
func Score(players []*Player, captions []Caption, votes []Vote) {
	points := Tally(captions, votes)
	for _, p := range players {
		p.Score += points[p.ID]
	}
}
