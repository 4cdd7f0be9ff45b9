package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/cartridge/delayenv/internal/service"
	"github.com/cartridge/delayenv/internal/types"
)

// readTimeout bounds how long a stream may sit without a frame.
const readTimeout = 60 * time.Second

// handleStream serves one session over a websocket. Each client frame is
// answered by exactly one reply frame, in order.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := s.sessions.Get(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := s.logger.With().Str("session_id", id).Logger()
	logger.Info().Msg("stream opened")
	defer logger.Info().Msg("stream closed")

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("stream read failed")
			}
			return
		}

		var frame types.Frame
		if err := json.Unmarshal(msg, &frame); err != nil {
			if s.writeFrame(conn, types.FrameReply{Error: "invalid frame"}) != nil {
				return
			}
			continue
		}
		reply := s.answer(r, id, frame)
		if err := s.writeFrame(conn, reply); err != nil {
			return
		}
		if errors.Is(s.sessionGone(r, id), service.ErrNotFound) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (s *Server) answer(r *http.Request, id string, frame types.Frame) types.FrameReply {
	reply := types.FrameReply{Type: frame.Type}
	if err := frame.Validate(); err != nil {
		reply.Error = err.Error()
		return reply
	}
	switch frame.Type {
	case types.FrameTypeReset:
		obs, err := s.sessions.Reset(r.Context(), id)
		if err != nil {
			reply.Error = err.Error()
			return reply
		}
		reply.Reset = &types.ResetResponse{Observation: obs, Flat: obs.Flatten()}
	case types.FrameTypeStep:
		resp, err := s.step(r, id, frame.Action)
		if err != nil {
			reply.Error = err.Error()
			return reply
		}
		reply.Step = &resp
	case types.FrameTypeState:
		rec, err := s.sessions.State(r.Context(), id)
		if err != nil {
			reply.Error = err.Error()
			return reply
		}
		reply.State = rec
	}
	return reply
}

func (s *Server) sessionGone(r *http.Request, id string) error {
	_, err := s.sessions.Get(r.Context(), id)
	return err
}

func (s *Server) writeFrame(conn *websocket.Conn, v types.FrameReply) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
