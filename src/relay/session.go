package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"traderobot/src/apperr"
	"traderobot/src/events"
	"traderobot/src/metrics"
)

const maxCommandSize = 64 << 10

// Session is one connected consumer. Only writePump writes to conn.
type Session struct {
	id        string
	requester string
	hub       *Hub
	conn      *websocket.Conn
	log       *logger.Entry

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(h *Hub, id string, conn *websocket.Conn) *Session {
	return &Session{
		id:        id,
		requester: "session:" + id,
		hub:       h,
		conn:      conn,
		log:       h.log.WithField("session_id", id),
		send:      make(chan []byte, h.cfg.SendBuffer),
		done:      make(chan struct{}),
	}
}

// enqueue never blocks; a consumer that cannot keep up loses frames.
func (s *Session) enqueue(frame []byte) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.send <- frame:
	default:
		metrics.RelayDropped.Inc()
		s.log.Warn("send buffer full, dropping message")
	}
}

func (s *Session) sendEvent(event string, data interface{}) {
	frame, err := encode(event, data)
	if err != nil {
		s.log.WithField("event", event).WithError(err).Error("failed to encode event")
		return
	}
	s.enqueue(frame)
}

func (s *Session) sendStatus() {
	s.sendEvent(events.NameFeedStatus, s.hub.currentStatus())
}

func (s *Session) sendError(cmd Command, err error) {
	s.log.WithFields(map[string]interface{}{
		"action": cmd.Action,
		"token":  cmd.Token,
	}).WithError(err).Warn("consumer command failed")
	s.sendEvent(eventError, errorPayload{Action: cmd.Action, Token: cmd.Token, Message: err.Error()})
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) readPump() {
	s.conn.SetReadLimit(maxCommandSize)
	if ping := s.hub.cfg.PingInterval; ping > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(2 * ping))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(2 * ping))
		})
	}
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.WithError(err).Debug("consumer read ended")
			}
			return
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.sendError(cmd, fmt.Errorf("%w: %v", apperr.ErrInvalidRequest, err))
			continue
		}
		s.dispatch(cmd)
	}
}

func (s *Session) writePump() {
	var tick <-chan time.Time
	if ping := s.hub.cfg.PingInterval; ping > 0 {
		ticker := time.NewTicker(ping)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer s.conn.Close()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.hub.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.WithError(err).Debug("consumer write failed")
				s.close()
				return
			}
		case <-tick:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.hub.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (s *Session) dispatch(cmd Command) {
	cmd.Token = strings.TrimSpace(cmd.Token)
	h := s.hub
	switch cmd.Action {
	case ActionSubscribe:
		if cmd.Token == "" {
			s.sendError(cmd, fmt.Errorf("%w: token is required", apperr.ErrInvalidRequest))
			return
		}
		h.join(s, cmd.Token)
		if h.interest != nil {
			if err := h.interest.AddInterest(cmd.Token, cmd.Exchange, s.requester); err != nil {
				h.leave(s, cmd.Token)
				s.sendError(cmd, err)
				return
			}
		}
		s.log.WithField("token", cmd.Token).Info("consumer subscribed")
		s.sendStatus()

	case ActionUnsubscribe:
		h.leave(s, cmd.Token)
		if h.interest != nil {
			if err := h.interest.RemoveInterest(cmd.Token, s.requester); err != nil {
				s.sendError(cmd, err)
				return
			}
		}
		s.log.WithField("token", cmd.Token).Info("consumer unsubscribed")

	case ActionUpdateTrade:
		if h.trades == nil {
			s.sendError(cmd, errors.New("trade updates are not available"))
			return
		}
		if _, err := h.trades.UpdateTrade(cmd.Token, cmd.Updates); err != nil {
			s.sendError(cmd, err)
		}

	case ActionGetFeedStatus:
		s.sendStatus()

	default:
		s.sendError(cmd, fmt.Errorf("%w: unknown action %q", apperr.ErrInvalidRequest, cmd.Action))
	}
}
