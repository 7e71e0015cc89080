package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quantarena/arena/internal/chart"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type equityFrame struct {
	Type    string        `json:"type"`
	Time    time.Time     `json:"time"`
	Entries []chart.Entry `json:"entries"`
}

// handleEquityStream pushes a fresh leaderboard to the client on a fixed
// interval until the client goes away or the server shuts down.
func (s *Server) handleEquityStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	s.logger.Debug("Equity stream connected", zap.String("remote", conn.RemoteAddr().String()))

	// Reader exists only to observe the close handshake and pongs.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.StreamInterval)
	defer ticker.Stop()

	if err := s.pushStandings(r, conn); err != nil {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(wsWriteTimeout))
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
			if err := s.pushStandings(r, conn); err != nil {
				s.logger.Debug("Equity stream write failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) pushStandings(r *http.Request, conn *websocket.Conn) error {
	standings, err := s.currentStandings(r, false)
	if err != nil {
		s.logger.Warn("Failed to build stream frame", zap.Error(err))
		// Keep the connection; the next interval may succeed.
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(equityFrame{
		Type:    "leaderboard",
		Time:    time.Now().UTC(),
		Entries: chart.Rank(standings, s.cfg.BoardLimit),
	})
}
