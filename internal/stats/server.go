// ABOUTME: Observability endpoint exposing transport counters as JSON
// ABOUTME: Serves one-shot HTTP reads and a websocket push stream
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const pushInterval = time.Second

// Report is one snapshot of everything worth watching. Field groups are
// filled by whichever components the application wired in.
type Report struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	Pipeline  any `json:"pipeline,omitempty"`
	Network   any `json:"network,omitempty"`
	FEC       any `json:"fec,omitempty"`
	Transport any `json:"transport,omitempty"`
	Buffer    any `json:"buffer,omitempty"`
}

// Provider produces the current report on demand.
type Provider func() Report

// Server publishes reports over HTTP. GET /stats returns one snapshot;
// GET /stats/ws upgrades to a websocket that receives a report every
// second until the client goes away.
type Server struct {
	provider Provider
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener

	log *logrus.Entry
}

// NewServer creates a stats server bound to addr on Start.
func NewServer(addr string, provider Provider) (*Server, error) {
	if provider == nil {
		return nil, errors.New("stats server requires a provider")
	}
	s := &Server{
		provider: provider,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logrus.WithField("component", "stats"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stats", s.handleSnapshot)
	mux.HandleFunc("/stats/ws", s.handleStream)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s, nil
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Stats server failed")
		}
	}()

	s.log.WithField("addr", listener.Addr().String()).Info("Stats server listening")
	return nil
}

// Stop shuts the server down, closing any open websocket streams.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.httpServer.Shutdown(ctx)
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.provider()); err != nil {
		s.log.WithError(err).Warn("Failed to encode report")
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	s.log.WithField("remote", conn.RemoteAddr().String()).Debug("Stats stream opened")

	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteJSON(s.provider()); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
