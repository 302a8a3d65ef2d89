package session

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/retrouci/internal/connector"
	"github.com/park285/retrouci/internal/journal"
	"github.com/park285/retrouci/internal/obslog"
	"github.com/park285/retrouci/internal/uci"
)

const (
	defaultPingInterval = 20 * time.Second
	writeTimeout        = 5 * time.Second
	outboundBuffer      = 256
)

// Starter runs one session for a profile.
type Starter interface {
	Run(ctx context.Context, profileKey string, commands <-chan uci.Command, sink connector.Sink) (connector.Summary, error)
}

// WSServer serves UCI sessions over websocket: GET /uci?profile=<key> upgrades and
// carries UCI lines as text messages; GET /sessions lists journaled live sessions.
type WSServer struct {
	runner         Starter
	journal        *journal.Store
	defaultProfile string
	pingInterval   time.Duration
	logger         *zap.Logger

	mu     sync.Mutex
	active map[string]int
}

type WSOption func(*WSServer)

func WithPingInterval(d time.Duration) WSOption {
	return func(s *WSServer) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

func NewWSServer(runner Starter, store *journal.Store, defaultProfile string, opts ...WSOption) *WSServer {
	s := &WSServer{
		runner:         runner,
		journal:        store,
		defaultProfile: defaultProfile,
		pingInterval:   defaultPingInterval,
		logger:         obslog.L().With(zap.String("component", "ws")),
		active:         make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /uci", s.handleUCI)
	mux.HandleFunc("GET /sessions", s.handleSessions)
	return mux
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *WSServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("ws_listen", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *WSServer) handleUCI(w http.ResponseWriter, r *http.Request) {
	profileKey := strings.TrimSpace(r.URL.Query().Get("profile"))
	if profileKey == "" {
		profileKey = s.defaultProfile
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.logger.Warn("ws_accept_error", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	s.track(profileKey, 1)
	defer s.track(profileKey, -1)

	outbound := make(chan string, outboundBuffer)
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writeLoop(ctx, conn, outbound)
	}()
	go func() {
		defer wg.Done()
		s.pingLoop(pingCtx, conn, cancel)
	}()

	commands := make(chan uci.Command, 16)
	go s.readLoop(ctx, conn, commands)

	sink := connector.Sink(func(line string) {
		select {
		case outbound <- line:
		case <-ctx.Done():
		}
	})
	_, runErr := s.runner.Run(ctx, profileKey, commands, sink)
	close(outbound)
	stopPing()
	// let the writer flush before closing
	wg.Wait()

	if runErr != nil {
		s.logger.Warn("ws_session_error", zap.String("profile", profileKey), zap.Error(runErr))
		_ = conn.Close(websocket.StatusInternalError, truncateReason(runErr.Error()))
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "session ended")
}

// readLoop turns each text message into commands, one per line. A closed connection
// closes commands, which the Connector treats as quit.
func (s *WSServer) readLoop(ctx context.Context, conn *websocket.Conn, commands chan<- uci.Command) {
	defer close(commands)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			cmd, ok := uci.Parse(line, time.Now())
			if !ok {
				continue
			}
			select {
			case commands <- cmd:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *WSServer) writeLoop(ctx context.Context, conn *websocket.Conn, outbound <-chan string) {
	for line := range outbound {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := conn.Write(wctx, websocket.MessageText, []byte(line))
		cancel()
		if err != nil {
			s.logger.Debug("ws_write_error", zap.Error(err))
			// the client is gone; drain until the session ends
			for range outbound {
			}
			return
		}
	}
}

func (s *WSServer) pingLoop(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	t := time.NewTicker(s.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, pcancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			pcancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				s.logger.Warn("ws_ping_failure", zap.Error(err))
				cancel()
				return
			}
		}
	}
}

type sessionsResponse struct {
	Local   map[string]int  `json:"local"`
	Journal []journal.Entry `json:"journal,omitempty"`
}

func (s *WSServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	resp := sessionsResponse{Local: s.snapshotActive()}
	if s.journal != nil {
		entries, err := s.journal.Active(r.Context())
		if err != nil {
			http.Error(w, "journal unavailable", http.StatusServiceUnavailable)
			return
		}
		resp.Journal = entries
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *WSServer) track(profileKey string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[profileKey] += delta
	if s.active[profileKey] <= 0 {
		delete(s.active, profileKey)
	}
}

func (s *WSServer) snapshotActive() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.active))
	for k, v := range s.active {
		out[k] = v
	}
	return out
}

// truncateReason keeps a close reason inside the 123 byte control frame limit.
func truncateReason(s string) string {
	if len(s) <= 120 {
		return s
	}
	return s[:120]
}
