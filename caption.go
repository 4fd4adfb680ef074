/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Captionparty session gateway
//
// Every browser holds one websocket to {prefix}/captions/ws. Inbound frames are
// ClientMessage values; outbound frames are captions.Event values. The
// gateway tracks which connections belong to which lobby and fans lobby
// events out to them, but all game rules live in games/captions.
//
// Routes:
//   - $path/ws                → websocket for all lobbies
//   - $path/lobby/:code       → JSON view of a lobby
//   - $path/lobby/:code/qr    → PNG QR code for a lobby's join URL
//   - $path/upload            → multipart image upload (see upload.go)

package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/captionparty/games/captions"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/segmentio/encoding/json"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	sendBuffer     = 32
	maxMessageSize = 16 * 1024
	writeWait      = 10 * time.Second
	qrSize         = 320
)

var (
	errRateLimited = errors.New("too many requests, slow down")
	errMalformed   = errors.New("malformed message")
)

// Messages coming from clients. Which fields are read depends on Type.
type ClientMessage struct {
	Type       string `json:"type"`
	PlayerName string `json:"playerName,omitempty"`
	LobbyCode  string `json:"lobbyCode,omitempty"`
	Caption    string `json:"caption,omitempty"`
	CaptionID  string `json:"captionId,omitempty"`
	ImageURL   string `json:"imageUrl,omitempty"`
	ImageData  string `json:"imageData,omitempty"`
	ImageName  string `json:"imageName,omitempty"`
}

// Session is the lobby a connection is attached to. The zero value means
// not attached.
type Session struct {
	Code     string
	PlayerID string
}

func (s Session) attached() bool {
	return s.Code != ""
}

type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter
	once    sync.Once
}

func newClient(cfg *Config, id string, conn *websocket.Conn) *Client {
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(cfg.eventRate), cfg.eventBurst),
	}
}

// enqueue never blocks. A client that cannot keep up is disconnected.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.close()
		return false
	}
}

func (c *Client) deliver(ev captions.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// Gateway translates websocket traffic into lobby operations and delivers
// lobby events back to the connections in each lobby's group.
type Gateway struct {
	cfg      *Config
	registry *captions.Registry
	log      *zap.Logger

	mu     sync.RWMutex
	groups map[string]map[*Client]struct{}
}

func newGateway(cfg *Config) *Gateway {
	return &Gateway{
		cfg:    cfg,
		log:    cfg.log().Named("gateway"),
		groups: make(map[string]map[*Client]struct{}),
	}
}

// Publish implements captions.Publisher.
func (g *Gateway) Publish(code string, ev captions.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		g.log.Error("encode event", zap.String("lobby", code), zap.String("type", ev.Type), zap.Error(err))
		return
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	for c := range g.groups[code] {
		if !c.enqueue(data) {
			g.log.Debug("dropped slow client", zap.String("lobby", code), zap.String("player", c.id))
		}
	}
}

func (g *Gateway) subscribe(code string, c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	group, ok := g.groups[code]
	if !ok {
		group = make(map[*Client]struct{})
		g.groups[code] = group
	}
	group[c] = struct{}{}
}

func (g *Gateway) unsubscribe(code string, c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	group := g.groups[code]
	delete(group, c)
	if len(group) == 0 {
		delete(g.groups, code)
	}
}

// dropGroup runs when a lobby leaves the registry. Anyone still attached is
// told the lobby is gone.
func (g *Gateway) dropGroup(code string) {
	g.mu.Lock()
	group := g.groups[code]
	delete(g.groups, code)
	g.mu.Unlock()

	for c := range group {
		c.deliver(captions.ErrorEvent(captions.ErrLobbyNotFound))
	}
}

func (g *Gateway) groupSize(code string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.groups[code])
}

// closeAll disconnects every client.
func (g *Gateway) closeAll() {
	g.mu.Lock()
	groups := g.groups
	g.groups = make(map[string]map[*Client]struct{})
	g.mu.Unlock()

	for _, group := range groups {
		for c := range group {
			c.close()
		}
	}
}

// dispatch applies one client message and returns the connection's session
// afterwards.
func (g *Gateway) dispatch(c *Client, sess Session, msg ClientMessage) Session {
	switch msg.Type {
	case "createLobby":
		sess = g.leave(c, sess)

		l, err := g.registry.Create(c.id, msg.PlayerName)
		if err != nil {
			g.reject(c, msg.Type, err)
			return sess
		}

		g.subscribe(l.Code(), c)
		c.deliver(captions.Event{
			Type:    captions.EventLobbyCreated,
			Payload: captions.Joined{Lobby: l.View(), PlayerID: c.id},
		})

		logf(g.cfg, "GAMES: %s created lobby %s", c.id, l.Code())

		return Session{Code: l.Code(), PlayerID: c.id}

	case "joinLobby":
		code := captions.NormalizeCode(msg.LobbyCode)
		if sess.Code == code && sess.attached() {
			g.reject(c, msg.Type, captions.ErrAlreadyJoined)
			return sess
		}

		l, err := g.registry.Find(code)
		if err != nil {
			g.reject(c, msg.Type, err)
			return sess
		}

		sess = g.leave(c, sess)

		// Subscribe first so nothing published right after the join is missed.
		g.subscribe(l.Code(), c)
		if _, err := l.Join(c.id, msg.PlayerName); err != nil {
			g.unsubscribe(l.Code(), c)
			g.reject(c, msg.Type, err)
			return sess
		}

		c.deliver(captions.Event{
			Type:    captions.EventJoinedLobby,
			Payload: captions.Joined{Lobby: l.View(), PlayerID: c.id},
		})

		logf(g.cfg, "GAMES: %s joined lobby %s", c.id, l.Code())

		return Session{Code: l.Code(), PlayerID: c.id}

	case "startGame":
		l, ok := g.lobby(c, sess, msg.Type)
		if !ok {
			return sess
		}
		if err := l.StartGame(sess.PlayerID); err != nil {
			g.reject(c, msg.Type, err)
		}

	case "submitCaption":
		l, ok := g.lobby(c, sess, msg.Type)
		if !ok {
			return sess
		}
		if err := l.SubmitCaption(sess.PlayerID, msg.Caption); err != nil {
			g.reject(c, msg.Type, err)
		}

	case "voteCaption":
		l, ok := g.lobby(c, sess, msg.Type)
		if !ok {
			return sess
		}
		if err := l.VoteCaption(sess.PlayerID, msg.CaptionID); err != nil {
			g.reject(c, msg.Type, err)
		}

	case "uploadImage":
		l, ok := g.lobby(c, sess, msg.Type)
		if !ok {
			return sess
		}

		url := msg.ImageURL
		if url == "" {
			url = msg.ImageData
		}
		if _, err := l.UploadImage(sess.PlayerID, msg.ImageName, url); err != nil {
			g.reject(c, msg.Type, err)
		}

	case "leaveLobby":
		return g.leave(c, sess)

	default:
		g.log.Debug("ignored message", zap.String("player", c.id), zap.String("type", msg.Type))
	}

	return sess
}

func (g *Gateway) lobby(c *Client, sess Session, action string) (*captions.Lobby, bool) {
	if !sess.attached() {
		g.reject(c, action, captions.ErrLobbyNotFound)
		return nil, false
	}

	l, err := g.registry.Find(sess.Code)
	if err != nil {
		g.reject(c, action, err)
		return nil, false
	}

	return l, true
}

// reject reports err to c alone. Captions and votes that arrive in the
// wrong phase or from a player who already left are dropped without a reply.
func (g *Gateway) reject(c *Client, action string, err error) {
	switch action {
	case "submitCaption", "voteCaption":
		if errors.Is(err, captions.ErrInvalidPhase) || errors.Is(err, captions.ErrUnknownPlayer) {
			g.log.Debug("dropped late action", zap.String("player", c.id), zap.String("type", action), zap.Error(err))
			return
		}
	}

	if !captions.IsClientError(err) {
		g.log.Error("lobby operation failed", zap.String("player", c.id), zap.String("type", action), zap.Error(err))
	}

	c.deliver(captions.ErrorEvent(err))
}

// leave detaches c from its lobby, if any, and returns the empty session.
func (g *Gateway) leave(c *Client, sess Session) Session {
	if !sess.attached() {
		return Session{}
	}

	g.unsubscribe(sess.Code, c)

	if l, err := g.registry.Find(sess.Code); err == nil {
		l.Leave(sess.PlayerID)
	}

	logf(g.cfg, "GAMES: %s left lobby %s", c.id, sess.Code)

	return Session{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (g *Gateway) serveWS() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			g.log.Debug("upgrade failed", zap.String("remote", realIP(r)), zap.Error(err))
			return
		}

		c := newClient(g.cfg, uuid.NewString(), conn)

		logf(g.cfg, "CONNECT: %s from %s", c.id, realIP(r))

		go c.writePump()
		g.readPump(c)
	}
}

func (g *Gateway) readPump(c *Client) {
	var sess Session

	defer func() {
		g.leave(c, sess)
		c.close()

		logf(g.cfg, "DISCONNECT: %s", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.Debug("read failed", zap.String("player", c.id), zap.Error(err))
			}
			return
		}

		if !c.limiter.Allow() {
			c.deliver(captions.ErrorEvent(errRateLimited))
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.deliver(captions.ErrorEvent(errMalformed))
			continue
		}

		sess = g.dispatch(c, sess, msg)
	}
}

func (c *Client) writePump() {
	defer c.close()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func serveLobby(cfg *Config, registry *captions.Registry, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		l, err := registry.Find(ps.ByName("code"))
		if err != nil {
			writeJSON(cfg, w, http.StatusNotFound, errorResponse{Error: err.Error()}, errs)
			return
		}

		writeJSON(cfg, w, http.StatusOK, l.View(), errs)
	}
}

// qrHandler generates a PNG QR code for a lobby's join URL.
func qrHandler(cfg *Config, registry *captions.Registry, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		l, err := registry.Find(ps.ByName("code"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		// We are at /.../lobby/:code/qr; the lobby URL is the same path without "/qr".
		path := strings.TrimSuffix(r.URL.Path, "/qr")
		path = strings.TrimSuffix(path, ps.ByName("code")) + l.Code()

		png, err := qrcode.Encode(baseURL(cfg, r)+path, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)

		if _, err := w.Write(png); err != nil {
			errs <- err
		}
	}
}

// reapLoop periodically closes lobbies idle longer than the session timeout.
func reapLoop(ctx context.Context, cfg *Config, registry *captions.Registry) {
	ticker := time.NewTicker(cfg.sessionTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := registry.Reap(cfg.sessionTimeout); n > 0 {
				logf(cfg, "GAMES: Reaped %d idle lobbies", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// registerCaptionGame sets up routes under path. g must already hold its
// registry.
func registerCaptionGame(cfg *Config, path string, mux *httprouter.Router, g *Gateway, errs chan<- error) {
	mux.GET(cfg.prefix+path+"/ws", g.serveWS())

	mux.GET(cfg.prefix+path+"/lobby/:code", serveLobby(cfg, g.registry, errs))

	mux.GET(cfg.prefix+path+"/lobby/:code/qr", qrHandler(cfg, g.registry, errs))

	mux.POST(cfg.prefix+path+"/upload", serveUpload(cfg, errs))
}
