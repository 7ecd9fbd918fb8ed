package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/txix-open/isp-kit/json"
	"github.com/txix-open/isp-kit/log"
	"request-throttle-service/domain"
	"request-throttle-service/httperrors"
	"request-throttle-service/request"
)

const (
	sendQueueSize = 64
)

type StatsSource interface {
	Stats() domain.StatsSnapshot
}

// Stream pushes every published decision to the connected websocket
// monitors as a JSON message per decision. The first message after the
// handshake is the current stats snapshot.
type Stream struct {
	logger log.Logger
	stats  StatsSource

	lock    sync.Mutex
	closed  bool
	clients map[*websocket.Conn]chan domain.Decision
}

func NewStream(logger log.Logger, stats StatsSource) *Stream {
	return &Stream{
		logger:  logger,
		stats:   stats,
		clients: make(map[*websocket.Conn]chan domain.Decision),
	}
}

// Notify queues the decision for every connected monitor. A monitor that
// doesn't keep up loses events instead of slowing decisions down.
func (s *Stream) Notify(_ context.Context, decision domain.Decision) {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, queue := range s.clients {
		select {
		case queue <- decision:
		default:
		}
	}
}

// Handle upgrades the request to a websocket connection and keeps it
// registered until the monitor disconnects.
//
//nolint:gomnd
func (s *Stream) Handle(ctx *request.Context) error {
	var upgradeError error
	upgrader := websocket.Upgrader{
		HandshakeTimeout: 5 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			upgradeError = httperrors.New(
				status,
				"websocket upgrade failed",
				errors.WithMessage(reason, "events: upgrade connection"),
			)
		},
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(ctx.ResponseWriter(), ctx.Request(), nil)
	if err != nil {
		if upgradeError != nil {
			return upgradeError
		}
		return errors.WithMessage(err, "events: upgrade connection")
	}

	queue, ok := s.register(conn)
	if !ok {
		_ = conn.Close()
		return nil
	}

	snapshot, err := json.Marshal(s.stats.Stats())
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, snapshot)
	}
	if err != nil {
		s.unregister(conn)
		s.logger.Error(ctx.Context(), "events: send initial snapshot", log.String("error", err.Error()))
		return nil
	}
	go s.writeLoop(conn, queue)

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
	s.unregister(conn)

	return nil
}

// Close disconnects all monitors. New connections are rejected afterwards.
func (s *Stream) Close() error {
	s.lock.Lock()
	s.closed = true
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.lock.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}

	return nil
}

func (s *Stream) register(conn *websocket.Conn) (chan domain.Decision, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil, false
	}
	queue := make(chan domain.Decision, sendQueueSize)
	s.clients[conn] = queue

	return queue, true
}

func (s *Stream) unregister(conn *websocket.Conn) {
	s.lock.Lock()
	defer s.lock.Unlock()

	queue, ok := s.clients[conn]
	if ok {
		delete(s.clients, conn)
		close(queue)
	}
	_ = conn.Close()
}

func (s *Stream) writeLoop(conn *websocket.Conn, queue chan domain.Decision) {
	for decision := range queue {
		data, err := json.Marshal(decision)
		if err != nil {
			s.logger.Error(context.Background(), "events: marshal decision", log.String("error", err.Error()))
			continue
		}

		err = conn.WriteMessage(websocket.TextMessage, data)
		if err != nil {
			_ = conn.Close()
			return
		}
	}
}
