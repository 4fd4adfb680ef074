/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"sync"
	"time"

	"github.com/Seednode/captionparty/games/captions"
	"github.com/go-stomp/stomp"
	"github.com/go-stomp/stomp/frame"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

const mirrorBuffer = 256

// broadcast is the frame body sent to the broker for every lobby event.
type broadcast struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type mirrored struct {
	code string
	ev   captions.Event
	at   time.Time
}

// stompSender is the part of *stomp.Conn the mirror uses.
type stompSender interface {
	Send(destination, contentType string, body []byte, opts ...func(*frame.Frame) error) error
	Disconnect() error
}

// stompMirror copies lobby broadcasts to a STOMP broker, one destination
// per lobby. Publishing only queues; a single goroutine owns the
// connection. Events are dropped when the queue is full.
type stompMirror struct {
	conn  stompSender
	topic string
	log   *zap.Logger

	queue chan mirrored
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func newStompMirror(cfg *Config) (*stompMirror, error) {
	options := []func(conn *stomp.Conn) error{
		stomp.ConnOpt.Login(cfg.stompUser, cfg.stompPass),
		stomp.ConnOpt.Host("/"),
	}

	conn, err := stomp.Dial("tcp", cfg.stompAddr, options...)
	if err != nil {
		return nil, err
	}

	logf(cfg, "MIRROR: Connected to %s, publishing to %s.<lobby>", cfg.stompAddr, cfg.stompTopic)

	return startMirror(conn, cfg.stompTopic, cfg.log().Named("mirror")), nil
}

func startMirror(conn stompSender, topic string, log *zap.Logger) *stompMirror {
	m := &stompMirror{
		conn:  conn,
		topic: topic,
		log:   log,
		queue: make(chan mirrored, mirrorBuffer),
		done:  make(chan struct{}),
	}

	m.wg.Add(1)
	go m.run()

	return m
}

// Publish implements captions.Publisher.
func (m *stompMirror) Publish(code string, ev captions.Event) {
	select {
	case <-m.done:
		return
	default:
	}

	select {
	case m.queue <- mirrored{code: code, ev: ev, at: time.Now()}:
	default:
		m.log.Warn("mirror queue full, dropping event", zap.String("lobby", code), zap.String("type", ev.Type))
	}
}

func (m *stompMirror) run() {
	defer m.wg.Done()

	for {
		select {
		case item := <-m.queue:
			m.send(item)
		case <-m.done:
			return
		}
	}
}

func (m *stompMirror) send(item mirrored) {
	body, err := json.Marshal(broadcast{
		Type:      item.ev.Type,
		Payload:   item.ev.Payload,
		Timestamp: item.at,
	})
	if err != nil {
		m.log.Error("encode broadcast", zap.String("lobby", item.code), zap.Error(err))
		return
	}

	if err := m.conn.Send(m.topic+"."+item.code, "application/json", body); err != nil {
		m.log.Warn("send broadcast", zap.String("lobby", item.code), zap.String("type", item.ev.Type), zap.Error(err))
	}
}

// Close stops the sender and disconnects from the broker. Queued events
// that have not been sent yet are discarded.
func (m *stompMirror) Close() error {
	var err error

	m.once.Do(func() {
		close(m.done)
		m.wg.Wait()
		err = m.conn.Disconnect()
	})

	return err
}
