// Package bridge exposes a session over a local websocket so a browser or
// another front end can render the transcript and submit messages.
//
// Every frame the server sends is a full snapshot of the session. Clients
// that fall behind skip intermediate snapshots and never see a partial
// update.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/spamsch/son-of-simon-sub001/sidecar"
	"github.com/spamsch/son-of-simon-sub001/transcript"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxCommandSize = 1 << 20
	clientBuffer   = 4
	shutdownGrace  = 5 * time.Second
)

// Controller is the part of a session the bridge drives. *sidecar.Session
// satisfies it.
type Controller interface {
	Send(ctx context.Context, text string) error
	Reconnect(ctx context.Context) error
	ClearTranscript()
	State() sidecar.ConnectionState
	LastError() error
	Transcript() *transcript.Store
}

// Frame types sent to clients.
const (
	FrameSnapshot = "snapshot"
	FrameRejected = "rejected"
)

// Command types accepted from clients.
const (
	CommandMessage   = "message"
	CommandReconnect = "reconnect"
	CommandClear     = "clear"
)

// Snapshot is the full view of a session sent after every change.
type Snapshot struct {
	Type     string                  `json:"type"`
	State    sidecar.ConnectionState `json:"state"`
	Error    string                  `json:"error,omitempty"`
	Messages []transcript.Message    `json:"messages"`
}

// Rejected reports a command the session refused.
type Rejected struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Text  string `json:"text,omitempty"`
}

// Command is a client request.
type Command struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Options configures a Server.
type Options struct {
	Logger *slog.Logger
	// Token, when set, must be presented as a bearer token or a token query
	// parameter.
	Token string
	// AllowedOrigins lists browser origins permitted to connect in addition
	// to the server's own host. "*" allows any origin.
	AllowedOrigins []string
}

// Server serves a session to websocket clients. It is also a
// sidecar.Observer; register it on the session it controls.
type Server struct {
	ctrl     Controller
	log      *slog.Logger
	frames   *Broadcaster[[]byte]
	dirty    chan struct{}
	upgrader websocket.Upgrader
	opts     Options
	wg       sync.WaitGroup
}

// NewServer creates a server for ctrl. Run must be called for clients to
// receive updates after their initial snapshot.
func NewServer(ctrl Controller, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		ctrl:   ctrl,
		log:    log,
		frames: NewBroadcaster[[]byte](log),
		dirty:  make(chan struct{}, 1),
		opts:   opts,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// OnSessionEvent marks the session dirty. It never blocks.
func (s *Server) OnSessionEvent(sidecar.Event) {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// Run publishes a snapshot to every client each time the session changes,
// until ctx is done.
func (s *Server) Run(ctx context.Context) {
	source := make(chan []byte)
	go func() {
		defer close(source)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.dirty:
			}
			frame, err := s.snapshot()
			if err != nil {
				s.log.Error("failed to encode snapshot", "error", err)
				continue
			}
			select {
			case source <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	s.frames.Run(ctx, source)
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	return s.frames.Len()
}

func (s *Server) snapshot() ([]byte, error) {
	snap := Snapshot{
		Type:     FrameSnapshot,
		State:    s.ctrl.State(),
		Messages: s.ctrl.Transcript().Snapshot(),
	}
	if err := s.ctrl.LastError(); err != nil {
		snap.Error = err.Error()
	}
	return json.Marshal(snap)
}

// ServeHTTP upgrades the request and serves one client until it
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Counted before the upgrade so Serve's wait covers connections that
	// Shutdown stops tracking once hijacked.
	s.wg.Add(1)
	defer s.wg.Done()

	if s.opts.Token != "" {
		if err := checkToken(r, s.opts.Token); err != nil {
			s.log.Warn("rejected bridge client", "remote", r.RemoteAddr, "error", err)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.log.Info("bridge client connected", "remote", r.RemoteAddr)
	c := &client{
		conn:    conn,
		srv:     s,
		replies: make(chan []byte, clientBuffer),
		done:    make(chan struct{}),
	}
	c.serve(r.Context())
	s.log.Info("bridge client disconnected", "remote", r.RemoteAddr)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.opts.AllowedOrigins, "*") || slices.Contains(s.opts.AllowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// Handler returns a mux serving the websocket at /ws and a liveness probe
// at /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"state":   s.ctrl.State(),
			"clients": s.Clients(),
		})
	})
	return mux
}

// ListenAndServe runs the server on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the server on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: writeWait,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go s.Run(ctx)
	s.log.Info("bridge listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownGrace)
	defer stop()
	// Hijacked websocket connections are not tracked by Shutdown; they end
	// when their subscription channel closes.
	err := httpSrv.Shutdown(shutdownCtx)
	s.wg.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

type client struct {
	conn    *websocket.Conn
	srv     *Server
	replies chan []byte
	done    chan struct{}
}

func (c *client) serve(ctx context.Context) {
	id, frames := c.srv.frames.Subscribe(clientBuffer)
	defer c.srv.frames.Unsubscribe(id)

	initial, err := c.srv.snapshot()
	if err != nil {
		c.srv.log.Error("failed to encode snapshot", "error", err)
		_ = c.conn.Close()
		return
	}

	go c.readLoop(ctx)
	c.writeLoop(initial, frames)
	<-c.done
}

func (c *client) writeLoop(initial []byte, frames <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	if err := c.write(websocket.TextMessage, initial); err != nil {
		return
	}
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				_ = c.write(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		case reply := <-c.replies:
			if err := c.write(websocket.TextMessage, reply); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) write(kind int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(kind, data)
	if err != nil {
		c.srv.log.Debug("bridge write failed", "error", err)
	}
	return err
}

func (c *client) readLoop(ctx context.Context) {
	defer close(c.done)

	c.conn.SetReadLimit(maxCommandSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.srv.log.Debug("bridge read ended", "error", err)
			}
			return
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.reject(fmt.Errorf("malformed command: %w", err), "")
			continue
		}
		c.handle(ctx, cmd)
	}
}

func (c *client) handle(ctx context.Context, cmd Command) {
	c.srv.log.Debug("bridge command", "type", cmd.Type)
	switch cmd.Type {
	case CommandMessage:
		if err := c.srv.ctrl.Send(ctx, cmd.Text); err != nil {
			c.reject(err, cmd.Text)
		}
	case CommandReconnect:
		if err := c.srv.ctrl.Reconnect(ctx); err != nil {
			c.reject(err, "")
		}
	case CommandClear:
		c.srv.ctrl.ClearTranscript()
	default:
		c.reject(fmt.Errorf("unknown command type %q", cmd.Type), "")
	}
}

func (c *client) reject(err error, text string) {
	data, mErr := json.Marshal(Rejected{Type: FrameRejected, Error: err.Error(), Text: text})
	if mErr != nil {
		return
	}
	select {
	case c.replies <- data:
	case <-c.done:
	default:
		c.srv.log.Warn("dropped rejection for slow client", "error", err)
	}
}

var _ Controller = (*sidecar.Session)(nil)
