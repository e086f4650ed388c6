// Package station is the websocket endpoint the operator console connects to.
// The console streams joystick state and mode requests in; the server streams
// telemetry snapshots out to every connected console.
package station

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"drivetrain-core/input"
	"drivetrain-core/telemetry"
	"drivetrain-core/utils"
)

type Mode string

const (
	ModeDisabled   Mode = "disabled"
	ModeTeleop     Mode = "teleop"
	ModeAutonomous Mode = "autonomous"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDisabled, ModeTeleop, ModeAutonomous:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Request is one message from the console. Absent fields leave state unchanged.
type Request struct {
	Driver   *input.PadState `json:"driver,omitempty"`
	Operator *input.PadState `json:"operator,omitempty"`
	Mode     string          `json:"mode,omitempty"`
	Auto     string          `json:"auto,omitempty"`
}

const (
	sendBuffer   = 16
	writeTimeout = 250 * time.Millisecond
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server accepts console connections.
type Server struct {
	log      *utils.Logger
	driver   *input.Pad
	operator *input.Pad
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	mode    Mode
	auto    string
}

func New(driver, operator *input.Pad, log *utils.Logger) *Server {
	return &Server{
		log:      log.With("component", "station"),
		driver:   driver,
		operator: operator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		mode:    ModeDisabled,
	}
}

// Requested returns the latest mode and autonomous selection from the console.
func (s *Server) Requested() (Mode, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode, s.auto
}

func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()
	s.log.Info("console connected from %s (%d total)", r.RemoteAddr, count)

	go s.writeLoop(c)
	s.readLoop(c)
}

func (s *Server) readLoop(c *client) {
	defer s.drop(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("console read: %v", err)
			}
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.log.Warn("bad console message: %v", err)
			continue
		}
		s.apply(req)
	}
}

func (s *Server) apply(req Request) {
	if req.Driver != nil {
		s.driver.Update(*req.Driver)
	}
	if req.Operator != nil {
		s.operator.Update(*req.Operator)
	}
	if req.Mode == "" && req.Auto == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Mode != "" {
		mode, err := ParseMode(req.Mode)
		if err != nil {
			s.log.Warn("%v", err)
		} else if mode != s.mode {
			s.log.Info("console requests %s", mode)
			s.mode = mode
		}
	}
	if req.Auto != "" {
		s.auto = req.Auto
	}
}

func (s *Server) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
}

// drop forgets a client. Losing the last console disables the robot and
// releases its sticks so nothing keeps driving unattended.
func (s *Server) drop(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	remaining := len(s.clients)
	if remaining == 0 {
		s.mode = ModeDisabled
	}
	s.mu.Unlock()

	if remaining == 0 {
		s.driver.Reset()
		s.operator.Reset()
	}
	s.log.Info("console disconnected (%d remaining)", remaining)
}

// Publish sends a telemetry snapshot to every console. Slow consoles whose
// buffer is full are disconnected rather than waited on.
func (s *Server) Publish(snap telemetry.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode telemetry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			delete(s.clients, c)
			close(c.send)
			s.log.Warn("dropped slow console")
		}
	}
	return nil
}
