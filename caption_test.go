/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Seednode/captionparty/games/captions"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wireEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (e wireEvent) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(e.Payload, v))
}

func (e wireEvent) message(t *testing.T) string {
	t.Helper()

	var m captions.ErrorMessage
	e.decode(t, &m)
	return m.Message
}

func testConfig(t *testing.T) *Config {
	t.Helper()

	return &Config{
		maxPlayers:       8,
		minPlayers:       3,
		rounds:           5,
		captionTime:      60 * time.Second,
		votingTime:       30 * time.Second,
		resultsTime:      10 * time.Second,
		maxCaptionLength: 200,
		uploadDir:        t.TempDir(),
		uploadLimit:      1 << 20,
		eventRate:        1000,
		eventBurst:       1000,
	}
}

func newTestGateway(t *testing.T, cfg *Config) *Gateway {
	t.Helper()

	g := newGateway(cfg)
	g.registry = captions.NewRegistry(
		captions.WithRules(cfg.rules()),
		captions.WithPublisher(g),
		captions.WithOnRemove(g.dropGroup),
	)
	t.Cleanup(g.registry.Close)

	return g
}

// drain returns every event queued for c without blocking.
func drain(t *testing.T, c *Client) []wireEvent {
	t.Helper()

	var out []wireEvent
	for {
		select {
		case data := <-c.send:
			var ev wireEvent
			require.NoError(t, json.Unmarshal(data, &ev))
			out = append(out, ev)
		default:
			return out
		}
	}
}

func typesOf(events []wireEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

type player struct {
	client *Client
	sess   Session
}

func (p *player) send(g *Gateway, msg ClientMessage) {
	p.sess = g.dispatch(p.client, p.sess, msg)
}

func newPlayer(cfg *Config, id string) *player {
	return &player{client: newClient(cfg, id, nil)}
}

// seatLobby creates a lobby hosted by names[0] and joins the rest.
func seatLobby(t *testing.T, g *Gateway, names ...string) []*player {
	t.Helper()

	players := make([]*player, len(names))
	for i, name := range names {
		players[i] = newPlayer(g.cfg, "conn-"+name)
	}

	players[0].send(g, ClientMessage{Type: "createLobby", PlayerName: names[0]})
	require.True(t, players[0].sess.attached())

	for i, name := range names[1:] {
		players[i+1].send(g, ClientMessage{Type: "joinLobby", LobbyCode: players[0].sess.Code, PlayerName: name})
		require.True(t, players[i+1].sess.attached(), "%s failed to join", name)
	}

	for _, p := range players {
		drain(t, p.client)
	}

	return players
}

func TestGateway_CreateAndJoin(t *testing.T) {
	cfg := testConfig(t)
	g := newTestGateway(t, cfg)

	alice := newPlayer(cfg, "conn-alice")
	alice.send(g, ClientMessage{Type: "createLobby", PlayerName: "Alice"})

	events := drain(t, alice.client)
	require.Len(t, events, 1)
	require.Equal(t, captions.EventLobbyCreated, events[0].Type)

	var created captions.Joined
	events[0].decode(t, &created)
	assert.Equal(t, "conn-alice", created.PlayerID)
	assert.Equal(t, alice.sess.Code, created.Lobby.Code)
	assert.Equal(t, "conn-alice", created.Lobby.HostID)
	assert.Equal(t, Session{Code: created.Lobby.Code, PlayerID: "conn-alice"}, alice.sess)

	bob := newPlayer(cfg, "conn-bob")
	bob.send(g, ClientMessage{Type: "joinLobby", LobbyCode: strings.ToLower(alice.sess.Code), PlayerName: "Bob"})
	assert.Equal(t, alice.sess.Code, bob.sess.Code)

	assert.Equal(t, []string{captions.EventLobbyUpdate, captions.EventJoinedLobby}, typesOf(drain(t, bob.client)))

	events = drain(t, alice.client)
	require.Equal(t, []string{captions.EventLobbyUpdate}, typesOf(events))

	var view captions.LobbyView
	events[0].decode(t, &view)
	assert.Len(t, view.Players, 2)
	assert.Equal(t, 2, g.groupSize(alice.sess.Code))
}

func TestGateway_ErrorsGoToCallerOnly(t *testing.T) {
	cfg := testConfig(t)
	g := newTestGateway(t, cfg)
	players := seatLobby(t, g, "Alice", "Bob")
	alice, bob := players[0], players[1]

	mallory := newPlayer(cfg, "conn-mallory")
	mallory.send(g, ClientMessage{Type: "joinLobby", LobbyCode: alice.sess.Code, PlayerName: "Bob"})

	events := drain(t, mallory.client)
	require.Len(t, events, 1)
	assert.Equal(t, captions.EventError, events[0].Type)
	assert.Equal(t, captions.ErrNameTaken.Error(), events[0].message(t))
	assert.False(t, mallory.sess.attached())
	assert.Equal(t, 2, g.groupSize(alice.sess.Code), "failed joiner is not left subscribed")

	mallory.send(g, ClientMessage{Type: "joinLobby", LobbyCode: "ZZZZZZ", PlayerName: "Mallory"})
	events = drain(t, mallory.client)
	require.Len(t, events, 1)
	assert.Equal(t, captions.ErrLobbyNotFound.Error(), events[0].message(t))

	bob.send(g, ClientMessage{Type: "startGame"})
	events = drain(t, bob.client)
	require.Len(t, events, 1)
	assert.Equal(t, captions.ErrNotHost.Error(), events[0].message(t))

	assert.Empty(t, drain(t, alice.client))
}

func TestGateway_ActionsWithoutLobby(t *testing.T) {
	cfg := testConfig(t)
	g := newTestGateway(t, cfg)

	loner := newPlayer(cfg, "conn-loner")
	loner.send(g, ClientMessage{Type: "startGame"})

	events := drain(t, loner.client)
	require.Len(t, events, 1)
	assert.Equal(t, captions.ErrLobbyNotFound.Error(), events[0].message(t))

	loner.send(g, ClientMessage{Type: "somethingElse"})
	assert.Empty(t, drain(t, loner.client))
}

func TestGateway_StartGameBroadcasts(t *testing.T) {
	cfg := testConfig(t)
	g := newTestGateway(t, cfg)

	players := seatLobby(t, g, "Alice", "Bob")
	players[0].send(g, ClientMessage{Type: "startGame"})

	events := drain(t, players[0].client)
	require.Len(t, events, 1)
	assert.Equal(t, captions.ErrNotEnoughPlayers.Error(), events[0].message(t))

	carol := newPlayer(cfg, "conn-carol")
	carol.send(g, ClientMessage{Type: "joinLobby", LobbyCode: players[0].sess.Code, PlayerName: "Carol"})
	players = append(players, carol)
	for _, p := range players {
		drain(t, p.client)
	}

	players[0].send(g, ClientMessage{Type: "startGame"})

	for _, p := range players {
		assert.Equal(t, []string{captions.EventGameStarted, captions.EventRoundStarted}, typesOf(drain(t, p.client)), p.client.id)
	}
}

func TestGateway_RoundOverGateway(t *testing.T) {
	cfg := testConfig(t)
	g := newTestGateway(t, cfg)

	players := seatLobby(t, g, "Alice", "Bob", "Carol")
	alice := players[0]

	alice.send(g, ClientMessage{Type: "uploadImage", ImageData: "http://localhost/uploads/cat.png", ImageName: "cat"})
	events := drain(t, alice.client)
	require.Equal(t, []string{captions.EventImageUploaded}, typesOf(events))

	var list captions.ImageList
	events[0].decode(t, &list)
	require.Len(t, list.Images, 1)
	assert.Equal(t, "http://localhost/uploads/cat.png", list.Images[0].URL)

	alice.send(g, ClientMessage{Type: "voteCaption", CaptionID: "early"})
	assert.Empty(t, drain(t, alice.client), "votes outside voting are dropped silently")

	alice.send(g, ClientMessage{Type: "startGame"})
	for _, p := range players {
		drain(t, p.client)
	}

	for _, p := range players {
		p.send(g, ClientMessage{Type: "submitCaption", Caption: "by " + p.client.id})
	}

	events = drain(t, alice.client)
	require.NotEmpty(t, events)
	voting := events[len(events)-1]
	require.Equal(t, captions.EventVotingStarted, voting.Type)

	var started captions.VotingStarted
	voting.decode(t, &started)
	require.Len(t, started.Captions, 3)

	alice.send(g, ClientMessage{Type: "voteCaption", CaptionID: "missing"})
	events = drain(t, alice.client)
	require.Len(t, events, 1)
	assert.Equal(t, captions.ErrUnknownCaption.Error(), events[0].message(t))

	for _, p := range players {
		p.send(g, ClientMessage{Type: "voteCaption", CaptionID: started.Captions[0].ID})
	}

	events = drain(t, players[1].client)
	require.NotEmpty(t, events)
	assert.Equal(t, captions.EventRoundResults, events[len(events)-1].Type)
}

func TestGateway_LeaveReassignsHost(t *testing.T) {
	cfg := testConfig(t)
	g := newTestGateway(t, cfg)

	players := seatLobby(t, g, "Alice", "Bob", "Carol")
	code := players[0].sess.Code

	players[0].send(g, ClientMessage{Type: "leaveLobby"})
	assert.False(t, players[0].sess.attached())
	assert.Empty(t, drain(t, players[0].client))

	events := drain(t, players[1].client)
	require.Equal(t, []string{captions.EventLobbyUpdate}, typesOf(events))

	var view captions.LobbyView
	events[0].decode(t, &view)
	assert.Equal(t, "conn-Bob", view.HostID)
	assert.Len(t, view.Players, 2)

	players[1].send(g, ClientMessage{Type: "leaveLobby"})
	players[2].send(g, ClientMessage{Type: "leaveLobby"})

	_, err := g.registry.Find(code)
	assert.ErrorIs(t, err, captions.ErrLobbyNotFound)
	assert.Zero(t, g.groupSize(code))
}

func TestGateway_CreateWhileAttachedLeavesPrevious(t *testing.T) {
	cfg := testConfig(t)
	g := newTestGateway(t, cfg)

	players := seatLobby(t, g, "Alice", "Bob")
	first := players[1].sess.Code

	players[1].send(g, ClientMessage{Type: "createLobby", PlayerName: "Bob"})
	require.True(t, players[1].sess.attached())
	assert.NotEqual(t, first, players[1].sess.Code)

	l, err := g.registry.Find(first)
	require.NoError(t, err)
	assert.Len(t, l.View().Players, 1)
	assert.Equal(t, 1, g.groupSize(first))
}

func TestGateway_RejoinSameLobby(t *testing.T) {
	cfg := testConfig(t)
	g := newTestGateway(t, cfg)

	players := seatLobby(t, g, "Alice", "Bob")
	players[1].send(g, ClientMessage{Type: "joinLobby", LobbyCode: players[0].sess.Code, PlayerName: "Bob"})

	events := drain(t, players[1].client)
	require.Len(t, events, 1)
	assert.Equal(t, captions.ErrAlreadyJoined.Error(), events[0].message(t))
	assert.True(t, players[1].sess.attached())
}

func TestGateway_SlowClientIsDropped(t *testing.T) {
	cfg := testConfig(t)
	g := newTestGateway(t, cfg)

	c := newClient(cfg, "slow", nil)
	g.subscribe("ROOM01", c)

	for range sendBuffer {
		g.Publish("ROOM01", captions.Event{Type: captions.EventLobbyUpdate})
	}

	select {
	case <-c.done:
		t.Fatal("client closed before its buffer filled")
	default:
	}

	g.Publish("ROOM01", captions.Event{Type: captions.EventLobbyUpdate})

	select {
	case <-c.done:
	default:
		t.Fatal("client with a full buffer was not closed")
	}
}

func TestGateway_DropGroupNotifiesMembers(t *testing.T) {
	cfg := testConfig(t)
	g := newTestGateway(t, cfg)

	players := seatLobby(t, g, "Alice", "Bob")
	code := players[0].sess.Code

	g.registry.Remove(code)

	for _, p := range players {
		events := drain(t, p.client)
		require.Len(t, events, 1)
		assert.Equal(t, captions.ErrLobbyNotFound.Error(), events[0].message(t))
	}
	assert.Zero(t, g.groupSize(code))
}

func newTestServer(t *testing.T, cfg *Config) (*httptest.Server, *Gateway) {
	t.Helper()

	g := newTestGateway(t, cfg)
	errs := make(chan error, 64)

	mux := httprouter.New()
	registerHome(cfg, mux, g.registry, errs)
	registerCaptionGame(cfg, "/captions", mux, g, errs)
	require.NoError(t, registerUploads(cfg, mux))

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		g.closeAll()
		srv.Close()
	})

	return srv, g
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/captions/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func sendMessage(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// readUntil reads frames until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) wireEvent {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var ev wireEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev.Type == typ {
			return ev
		}
	}
}

func TestWebsocket_CreateJoinDisconnect(t *testing.T) {
	cfg := testConfig(t)
	srv, g := newTestServer(t, cfg)

	host := dial(t, srv)
	sendMessage(t, host, ClientMessage{Type: "createLobby", PlayerName: "Alice"})

	var created captions.Joined
	readUntil(t, host, captions.EventLobbyCreated).decode(t, &created)
	code := created.Lobby.Code
	require.Len(t, code, 6)

	guest := dial(t, srv)
	sendMessage(t, guest, ClientMessage{Type: "joinLobby", LobbyCode: code, PlayerName: "Bob"})

	var joined captions.Joined
	readUntil(t, guest, captions.EventJoinedLobby).decode(t, &joined)
	assert.Equal(t, code, joined.Lobby.Code)
	assert.NotEqual(t, created.PlayerID, joined.PlayerID)

	var update captions.LobbyView
	readUntil(t, host, captions.EventLobbyUpdate).decode(t, &update)
	assert.Len(t, update.Players, 2)

	require.NoError(t, host.Close())

	readUntil(t, guest, captions.EventLobbyUpdate).decode(t, &update)
	require.Len(t, update.Players, 1)
	assert.Equal(t, joined.PlayerID, update.HostID)

	require.NoError(t, guest.Close())

	assert.Eventually(t, func() bool {
		return g.registry.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWebsocket_RateLimited(t *testing.T) {
	cfg := testConfig(t)
	cfg.eventRate = 0.001
	cfg.eventBurst = 1
	srv, _ := newTestServer(t, cfg)

	conn := dial(t, srv)
	sendMessage(t, conn, ClientMessage{Type: "createLobby", PlayerName: "Alice"})
	readUntil(t, conn, captions.EventLobbyCreated)

	sendMessage(t, conn, ClientMessage{Type: "startGame"})
	assert.Equal(t, errRateLimited.Error(), readUntil(t, conn, captions.EventError).message(t))
}

func TestWebsocket_MalformedMessage(t *testing.T) {
	cfg := testConfig(t)
	srv, _ := newTestServer(t, cfg)

	conn := dial(t, srv)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	assert.Equal(t, errMalformed.Error(), readUntil(t, conn, captions.EventError).message(t))
}

func TestServeLobby(t *testing.T) {
	cfg := testConfig(t)
	srv, g := newTestServer(t, cfg)

	l, err := g.registry.Create("conn-alice", "Alice")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/captions/lobby/" + strings.ToLower(l.Code()))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var view captions.LobbyView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, l.Code(), view.Code)

	missing, err := http.Get(srv.URL + "/captions/lobby/NOPE00")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestQRHandler(t *testing.T) {
	cfg := testConfig(t)
	srv, g := newTestServer(t, cfg)

	l, err := g.registry.Create("conn-alice", "Alice")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/captions/lobby/" + l.Code() + "/qr")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	missing, err := http.Get(srv.URL + "/captions/lobby/NOPE00/qr")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestHealthCheck(t *testing.T) {
	cfg := testConfig(t)
	srv, g := newTestServer(t, cfg)

	_, err := g.registry.Create("conn-alice", "Alice")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "OK", health.Status)
	assert.Equal(t, 1, health.Lobbies)
	assert.WithinDuration(t, time.Now(), health.Timestamp, time.Minute)
}
