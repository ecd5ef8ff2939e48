package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"stoptrainer/server"
	"stoptrainer/server/internal/sim"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 4096
)

// clientMessage is the inbound envelope. Every client frame is a command.
type clientMessage struct {
	Type    string         `json:"type"`
	Payload commandPayload `json:"payload"`
}

type commandPayload struct {
	Name       string `json:"name"`
	RandomMode bool   `json:"random_mode"`
	ScenarioID string `json:"scenario_id"`
	Notch      *int   `json:"notch"`
	Enabled    *bool  `json:"enabled"`
}

// stateMessage is the outbound envelope carrying one snapshot.
type stateMessage struct {
	Ver        int          `json:"ver"`
	Type       string       `json:"type"`
	Payload    sim.Snapshot `json:"payload"`
	ServerTime int64        `json:"server_time_ms"`
}

// conn pairs one websocket with one session. The write mutex serializes the
// send loop against close frames.
type conn struct {
	sock    *websocket.Conn
	session *server.Session
	logger  *zap.Logger

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(sock *websocket.Conn, session *server.Session, logger *zap.Logger) *conn {
	return &conn{
		sock:    sock,
		session: session,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sock.Close()
	})
}

// readLoop consumes client frames until the connection drops. Malformed
// frames are logged and skipped; the session keeps ticking regardless.
func (c *conn) readLoop() {
	c.sock.SetReadLimit(maxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		c.session.Touch()

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("malformed frame dropped", zap.Error(err))
			continue
		}
		if msg.Type != "cmd" {
			c.logger.Warn("unexpected frame type", zap.String("type", msg.Type))
			continue
		}
		cmd, ok := translate(c.session.ID.String(), msg.Payload)
		if !ok {
			c.logger.Warn("unknown command dropped", zap.String("name", msg.Payload.Name))
			continue
		}
		if !c.session.Loop.Enqueue(cmd) {
			c.logger.Warn("command buffer full, dropping", zap.String("name", msg.Payload.Name))
		}
	}
}

// translate maps a wire command onto the engine's command set.
func translate(sessionID string, p commandPayload) (sim.Command, bool) {
	cmd := sim.Command{
		SessionID: sessionID,
		Type:      sim.CommandType(p.Name),
		IssuedAt:  time.Now(),
	}
	switch cmd.Type {
	case sim.CommandSetInitial:
		cmd.SetInitial = &sim.SetInitialCommand{
			RandomMode: p.RandomMode,
			ScenarioID: p.ScenarioID,
		}
	case sim.CommandSetNotch:
		if p.Notch == nil {
			return sim.Command{}, false
		}
		cmd.SetNotch = &sim.SetNotchCommand{Notch: *p.Notch}
	case sim.CommandToggleAuto:
		if p.Enabled == nil {
			return sim.Command{}, false
		}
		cmd.ToggleAuto = &sim.ToggleAutoCommand{Enabled: *p.Enabled}
	case sim.CommandAdvanceStation:
	default:
		return sim.Command{}, false
	}
	return cmd, true
}

// sendLoop broadcasts the latest snapshot at the configured period and pings
// between frames to keep the read deadline alive. Any exit tears the
// connection down so the read side unblocks immediately.
func (c *conn) sendLoop(interval time.Duration) {
	defer c.close()
	ticker := time.NewTicker(interval)
	ping := time.NewTicker(pongWait * 8 / 10)
	defer ticker.Stop()
	defer ping.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ping.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ticker.C:
			msg := stateMessage{
				Ver:        server.ProtocolVersion,
				Type:       "state",
				Payload:    c.session.Loop.Latest(),
				ServerTime: time.Now().UnixMilli(),
			}
			data, err := json.Marshal(msg)
			if err != nil {
				c.logger.Error("snapshot marshal failed", zap.Error(err))
				return
			}
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (c *conn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.sock.SetWriteDeadline(time.Now().Add(writeWait))
	return c.sock.WriteMessage(messageType, data)
}
