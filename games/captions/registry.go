/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package captions

import (
	"crypto/rand"
	mrand "math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength      = 6
	maxCodeAttempts = 64
)

// NewCode returns a random lobby code drawn from crypto/rand.
func NewCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	out := make([]byte, codeLength)
	for i := range out {
		out[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}

	return string(out), nil
}

// NormalizeCode maps user input onto the code alphabet's case.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type Option func(*Registry)

func WithRules(rules Rules) Option {
	return func(r *Registry) { r.rules = rules }
}

func WithClock(clock Clock) Option {
	return func(r *Registry) { r.clock = clock }
}

func WithPublisher(p Publisher) Option {
	return func(r *Registry) { r.publisher = p }
}

func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) { r.log = log }
}

func WithCodeGenerator(gen func() (string, error)) Option {
	return func(r *Registry) { r.newCode = gen }
}

func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) { r.newID = gen }
}

// WithOnRemove registers a callback run after a lobby leaves the registry,
// whether it emptied, was reaped, or the registry shut down.
func WithOnRemove(f func(code string)) Option {
	return func(r *Registry) { r.onRemove = f }
}

// Registry owns every live lobby, keyed by code.
type Registry struct {
	mu      sync.RWMutex
	lobbies map[string]*Lobby

	rules     Rules
	clock     Clock
	publisher Publisher
	log       *zap.Logger
	newCode   func() (string, error)
	newID     func() string
	onRemove  func(code string)
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		lobbies:   make(map[string]*Lobby),
		rules:     DefaultRules(),
		clock:     SystemClock,
		publisher: nopPublisher,
		log:       zap.NewNop(),
		newCode:   NewCode,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create opens a lobby under a fresh code with hostID as its only player.
func (r *Registry) Create(hostID, hostName string) (*Lobby, error) {
	name, err := validName(hostName, r.rules.MaxNameLength)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var code string
	for attempt := 0; code == ""; attempt++ {
		if attempt == maxCodeAttempts {
			return nil, ErrCodeExhausted
		}

		c, err := r.newCode()
		if err != nil {
			return nil, err
		}

		if _, exists := r.lobbies[c]; exists {
			r.log.Debug("lobby code collision, regenerating", zap.String("lobby", c))
			continue
		}
		code = c
	}

	l := &Lobby{
		code:       code,
		rules:      r.rules,
		status:     StatusWaiting,
		phase:      PhaseWaiting,
		clock:      r.clock,
		publisher:  r.publisher,
		log:        r.log.With(zap.String("lobby", code)),
		rng:        mrand.New(mrand.NewPCG(mrand.Uint64(), mrand.Uint64())),
		newID:      r.newID,
		onEmpty:    r.release,
		lastActive: r.clock.Now(),
	}
	l.addPlayerLocked(hostID, name)

	r.lobbies[code] = l

	r.log.Info("lobby created",
		zap.String("lobby", code),
		zap.String("player", hostID),
		zap.Int("lobbies", len(r.lobbies)),
	)

	return l, nil
}

func (r *Registry) Find(code string) (*Lobby, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.lobbies[NormalizeCode(code)]
	if !ok {
		return nil, ErrLobbyNotFound
	}
	return l, nil
}

// Remove closes and forgets the lobby under code, if any.
func (r *Registry) Remove(code string) {
	r.mu.Lock()
	l, ok := r.lobbies[code]
	delete(r.lobbies, code)
	r.mu.Unlock()

	if !ok {
		return
	}

	l.Close()
	r.removed(code)
}

// release forgets l only if it still owns its code.
func (r *Registry) release(l *Lobby) {
	r.mu.Lock()
	current, ok := r.lobbies[l.code]
	if ok && current == l {
		delete(r.lobbies, l.code)
	}
	r.mu.Unlock()

	if ok && current == l {
		r.removed(l.code)
	}
}

func (r *Registry) removed(code string) {
	r.log.Info("lobby removed", zap.String("lobby", code))

	if r.onRemove != nil {
		r.onRemove(code)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.lobbies)
}

func (r *Registry) snapshot() []*Lobby {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Lobby, 0, len(r.lobbies))
	for _, l := range r.lobbies {
		out = append(out, l)
	}
	return out
}

// Reap closes lobbies with no activity for longer than idle and returns how
// many were removed.
func (r *Registry) Reap(idle time.Duration) int {
	cutoff := r.clock.Now().Add(-idle)

	reaped := 0
	for _, l := range r.snapshot() {
		if !l.LastActive().Before(cutoff) {
			continue
		}

		l.Close()
		r.release(l)
		reaped++
	}

	return reaped
}

// Close shuts down every lobby, stopping all timers.
func (r *Registry) Close() {
	for _, l := range r.snapshot() {
		l.Close()
		r.release(l)
	}
}
