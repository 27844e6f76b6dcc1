package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/coffersTech/nanolog/datasource/internal/engine"
	"github.com/coffersTech/nanolog/datasource/internal/model"
)

const writeWait = 10 * time.Second

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range s.allowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// handleStream upgrades to a websocket. The first client message is a
// QueryRequest; every tick is then written as a QueryResponse until the client
// goes away or the stream ends.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.streams.Add(1)
	defer s.streams.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// shutdown must not wait on a client that never sends its request
	unblock := context.AfterFunc(s.baseCtx, func() { conn.Close() })
	var req model.QueryRequest
	_, data, err := conn.ReadMessage()
	if !unblock() || err != nil {
		return
	}
	if err := json.Unmarshal(data, &req); err != nil {
		s.writeStreamError(conn, &engine.InputError{Field: "body", Message: "invalid JSON: " + err.Error(), Err: err})
		return
	}
	req.Streaming = true

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.baseCtx, cancel)
	defer stop()

	// a read error means the client is gone
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = s.orch.Execute(ctx, req, func(resp model.QueryResponse) {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(resp); err != nil {
			s.logger.Debug("stream write failed", zap.Error(err))
			cancel()
		}
	})
	if err != nil {
		s.writeStreamError(conn, err)
		return
	}

	code := websocket.CloseNormalClosure
	if s.baseCtx.Err() != nil {
		code = websocket.CloseGoingAway
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""))
}

func (s *Server) writeStreamError(conn *websocket.Conn, err error) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteJSON(model.QueryResponse{
		Frames: []model.ResultFrame{},
		State:  model.StateError,
		Error:  &model.QueryError{Message: err.Error(), Status: engine.StatusCode(err)},
	})
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
}
