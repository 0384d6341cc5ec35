package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen"
)

// closePenNotFound tells the client its pen id is unknown or expired.
const closePenNotFound = 4404

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // pens are served to any origin the host page is on
	},
}

// serveWebSocket handles GET /pens/{id}/ws.
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	session, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closePenNotFound, err.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	logger := session.logger.With(zap.String("remote", conn.RemoteAddr().String()))
	c := newClient(conn, logger)
	go c.writePump()

	if s.metrics != nil {
		s.metrics.WSConnections.Inc()
		defer s.metrics.WSConnections.Dec()
	}

	primary := session.attach(c)
	defer func() {
		session.detach(c)
		c.close()
		logger.Debug("client disconnected")
	}()
	logger.Debug("client connected", zap.Bool("primary", primary))

	ctx := r.Context()
	s.greet(ctx, session, c, primary)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("unexpected close", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("malformed message", zap.Error(err))
			session.send(c, Message{Action: ActionError, Error: "malformed message"})
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordWSMessage("in", msg.Action)
		}
		session.touch()
		s.handleMessage(ctx, session, c, msg)
	}
}

// greet brings a new client up to date. A browser pen's first client
// mounts it; when a later client becomes the only viewer it gets a fresh
// run, since its preview has to execute the document to report console
// output. Every other client is sent the current run and its log.
func (s *Server) greet(ctx context.Context, session *Session, c *client, primary bool) {
	session.send(c, session.sourcesMessage())

	pen := session.Pen()
	if primary && !session.Headless() {
		var err error
		if pen.Mounted() {
			err = pen.Run(ctx)
		} else {
			err = pen.Mount(ctx)
		}
		if err != nil {
			session.send(c, Message{Action: ActionError, Error: err.Error()})
		}
		return
	}

	run, doc := session.Snapshot()
	if run.Seq == 0 {
		return
	}
	session.send(c, Message{Action: ActionClear, Run: run.Seq, Trigger: string(run.Trigger)})
	session.send(c, session.loadMessage(run, doc, !session.Headless()))
	session.send(c, Message{Action: ActionEntries, Run: run.Seq, Entries: pen.Console()})
}

// handleMessage applies one client action to the pen.
func (s *Server) handleMessage(ctx context.Context, session *Session, c *client, msg Message) {
	pen := session.Pen()
	reply := func(err error) {
		session.send(c, Message{Action: ActionError, Error: err.Error()})
	}

	switch msg.Action {
	case ActionEdit:
		tab, err := tinkerpen.ParseTab(msg.Tab)
		if err != nil {
			reply(err)
			return
		}
		if err := pen.Edit(tab, msg.Text); err != nil {
			reply(err)
			return
		}
		if tab == tinkerpen.TabJS {
			session.send(c, lintMessage(msg.Text))
		}
		session.broadcastExcept(c, session.sourcesMessage())

	case ActionRun:
		if !s.limiter.allowRun(pen.ID()) {
			reply(errRunRateLimited)
			return
		}
		if err := pen.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			reply(err)
		}

	case ActionReset:
		if !s.limiter.allowRun(pen.ID()) {
			reply(errRunRateLimited)
			return
		}
		if err := pen.Reset(ctx); err != nil && !errors.Is(err, context.Canceled) {
			reply(err)
		}
		session.broadcast(session.sourcesMessage())
		session.broadcast(lintMessage(pen.Sources().JS))

	case ActionAutoRun:
		enabled := !pen.AutoRun()
		if msg.Enabled != nil {
			enabled = *msg.Enabled
		}
		pen.SetAutoRun(enabled)
		session.broadcast(session.sourcesMessage())

	case ActionConsole:
		if !session.isPrimary(c) {
			return
		}
		pen.Receive(tinkerpen.BridgeMessage{
			Type:    pen.BridgeName(),
			Session: pen.ID(),
			Run:     msg.Run,
			Level:   msg.Level,
			Args:    msg.Args,
		})

	case ActionLint:
		session.send(c, lintMessage(pen.Sources().JS))

	default:
		session.logger.Debug("unknown action", zap.String("action", msg.Action))
		session.send(c, Message{Action: ActionError, Error: "unknown action " + msg.Action})
	}
}

func lintMessage(js string) Message {
	msg := Message{Action: ActionLint}
	var syntaxErr *tinkerpen.SyntaxError
	if errors.As(tinkerpen.Lint(js), &syntaxErr) {
		msg.Lint = syntaxErr
	}
	return msg
}
