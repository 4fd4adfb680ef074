/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package captions

// Event types exchanged with clients.
const (
	EventLobbyCreated     = "lobbyCreated"
	EventJoinedLobby      = "joinedLobby"
	EventLobbyUpdate      = "lobbyUpdate"
	EventGameStarted      = "gameStarted"
	EventRoundStarted     = "roundStarted"
	EventCaptionSubmitted = "captionSubmitted"
	EventVotingStarted    = "votingStarted"
	EventVoteSubmitted    = "voteSubmitted"
	EventRoundResults     = "roundResults"
	EventGameEnded        = "gameEnded"
	EventImageUploaded    = "imageUploaded"
	EventError            = "error"
)

// Event is the envelope for every server to client message. Payloads are
// built from copies of lobby state and are safe to encode after the lobby
// lock is released.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Publisher delivers an event to every member of a lobby's group. Lobbies
// publish while holding their lock, so implementations must not block.
type Publisher interface {
	Publish(code string, ev Event)
}

type PublisherFunc func(code string, ev Event)

func (f PublisherFunc) Publish(code string, ev Event) {
	f(code, ev)
}

// Publishers fans each event out to several publishers in order.
type Publishers []Publisher

func (ps Publishers) Publish(code string, ev Event) {
	for _, p := range ps {
		if p != nil {
			p.Publish(code, ev)
		}
	}
}

var nopPublisher = PublisherFunc(func(string, Event) {})

// LobbyView is a point-in-time copy of a lobby.
type LobbyView struct {
	Code         string   `json:"id"`
	HostID       string   `json:"hostId"`
	Players      []Player `json:"players"`
	Status       Status   `json:"status"`
	Phase        Phase    `json:"phase"`
	MaxPlayers   int      `json:"maxPlayers"`
	CurrentRound int      `json:"currentRound"`
	TotalRounds  int      `json:"totalRounds"`
	Images       []Image  `json:"images"`
	CurrentImage *Image   `json:"currentImage"`
}

type Joined struct {
	Lobby    LobbyView `json:"lobby"`
	PlayerID string    `json:"playerId"`
}

type RoundStarted struct {
	Round    int    `json:"round"`
	Image    *Image `json:"image"`
	Phase    Phase  `json:"phase"`
	TimeLeft int    `json:"timeLeft"`
}

// CaptionSubmitted carries the author and text while captions are still
// being written.
type CaptionSubmitted struct {
	PlayerID string `json:"playerId"`
	Caption  string `json:"caption"`
}

type VotingStarted struct {
	Captions []Caption `json:"captions"`
	Phase    Phase     `json:"phase"`
	TimeLeft int       `json:"timeLeft"`
}

type VoteSubmitted struct {
	PlayerID  string `json:"playerId"`
	CaptionID string `json:"captionId"`
}

type RoundResults struct {
	Round    int       `json:"round"`
	Captions []Caption `json:"captions"`
	Votes    []Vote    `json:"votes"`
	Players  []Player  `json:"players"`
	Phase    Phase     `json:"phase"`
}

type FinalScore struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

type GameEnded struct {
	Players     []Player     `json:"players"`
	FinalScores []FinalScore `json:"finalScores"`
}

type ImageList struct {
	Images []Image `json:"images"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

// ErrorEvent wraps err for delivery to the single caller that caused it.
func ErrorEvent(err error) Event {
	return Event{Type: EventError, Payload: ErrorMessage{Message: err.Error()}}
}
