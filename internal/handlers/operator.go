package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/versatilecz/evac/internal/broker"
	"github.com/versatilecz/evac/internal/logging"
	"github.com/versatilecz/evac/internal/message"
	"github.com/versatilecz/evac/internal/services"
	"github.com/versatilecz/evac/internal/session"
	"github.com/versatilecz/evac/internal/state"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 64 << 10
)

// Subscriber is the source of broadcast operator messages
type Subscriber interface {
	Subscribe() *broker.Subscription[message.WebMessage]
}

// OperatorHandler serves the operator WebSocket
type OperatorHandler struct {
	op       services.Operator
	messages Subscriber
	control  *broker.Broker[state.Control]
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// NewOperatorHandler creates a new operator handler. Sessions are closed
// when Stop is published on control.
func NewOperatorHandler(op services.Operator, messages Subscriber, control *broker.Broker[state.Control]) *OperatorHandler {
	return &OperatorHandler{
		op:       op,
		messages: messages,
		control:  control,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: logging.Component("operator"),
	}
}

// HandleWebSocket upgrades the connection and runs the session until either
// side closes it
func (h *OperatorHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	log := h.log.WithField("remote", r.RemoteAddr)
	log.Info("Operator connected")

	sess := session.New(h.op, r.RemoteAddr)
	sub := h.messages.Subscribe()
	replies := make(chan []message.WebMessage, 16)

	// a nil channel never fires when there is no control broker
	var control <-chan state.Control
	if h.control != nil {
		ctl := h.control.Subscribe()
		defer ctl.Close()
		control = ctl.C()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(ctx, conn, sess, sub, control, replies, log)
	}()

	h.readPump(ctx, done, conn, sess, replies, log)
	cancel()
	<-done
	sub.Close()
	conn.Close()
	log.Info("Operator disconnected")
}

func (h *OperatorHandler) readPump(ctx context.Context, done <-chan struct{}, conn *websocket.Conn, sess *session.Session, replies chan<- []message.WebMessage, log *logrus.Entry) {
	conn.SetReadLimit(maxMessage)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("Operator read failed")
			}
			return
		}

		var out []message.WebMessage
		m, err := message.Parse(data)
		if err != nil {
			out = []message.WebMessage{message.Errorf("%v", err)}
		} else {
			out, err = sess.Receive(ctx, m)
		}

		select {
		case replies <- out:
		case <-done:
			return
		}
		if errors.Is(err, session.ErrClosed) {
			log.Warn("Closing session after repeated violations")
			return
		}
	}
}

func goingAway(conn *websocket.Conn) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
		time.Now().Add(writeWait))
	conn.Close()
}

func (h *OperatorHandler) writePump(ctx context.Context, conn *websocket.Conn, sess *session.Session, sub *broker.Subscription[message.WebMessage], control <-chan state.Control, replies <-chan []message.WebMessage, log *logrus.Entry) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(m message.WebMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(m); err != nil {
			log.WithError(err).Warn("Operator write failed")
			return false
		}
		return true
	}

	for {
		select {
		case out := <-replies:
			for _, m := range out {
				if !write(m) {
					conn.Close()
					return
				}
			}
		case m, ok := <-sub.C():
			if !ok {
				goingAway(conn)
				return
			}
			if sess.Allowed(m) && !write(m) {
				conn.Close()
				return
			}
		case c, ok := <-control:
			// Reload keeps sessions open
			if !ok || c == state.Stop {
				log.Info("Closing session on stop")
				goingAway(conn)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return
			}
		case <-ctx.Done():
			// flush what the reader queued before it gave up
			for {
				select {
				case out := <-replies:
					for _, m := range out {
						write(m)
					}
				default:
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(writeWait))
					return
				}
			}
		}
	}
}
