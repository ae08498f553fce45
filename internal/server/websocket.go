package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"

	"github.com/IdanVahab/Temi-Server/internal/logger"
	"github.com/IdanVahab/Temi-Server/internal/scenario"
	"github.com/IdanVahab/Temi-Server/internal/session"
	"github.com/IdanVahab/Temi-Server/pkg/types"
)

var wsLog = logger.Module("WS")

// handleWebSocket runs one session per connection. Each text message is a
// frame; emitted scenarios are answered with the bare scenario name, or the
// full JSON message when the client connects with ?format=json.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	jsonReplies := r.URL.Query().Get("format") == "json"

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		wsLog.Warn("Accept failed: %v", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.cfg.MaxFrameBytes)

	sess := s.sessions.Open(session.KindWebSocket)
	defer func() { _ = s.sessions.Close(sess.ID) }()
	wsLog.Info("Client connected from %s (session %s)", r.RemoteAddr, sess.ID)

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				wsLog.Info("Client disconnected (session %s)", sess.ID)
			default:
				wsLog.Debug("Read ended for session %s: %v", sess.ID, err)
			}
			return
		}

		frame, err := session.DecodeFrame(data)
		if err == nil {
			var msg *types.ScenarioMessage
			msg, err = sess.Process(ctx, frame)
			if err == nil {
				if msg != nil {
					if err := writeScenario(ctx, conn, msg, jsonReplies); err != nil {
						return
					}
				}
				sess.Caption(ctx, frame.Labels, func(c types.CaptionMessage) {
					_ = writeWSJSON(ctx, conn, c)
				})
				continue
			}
		}

		if !errors.Is(err, scenario.ErrInvalidInput) {
			wsLog.Warn("Session %s: %v", sess.ID, err)
			conn.Close(websocket.StatusInternalError, "session unavailable")
			return
		}
		wsLog.Debug("Session %s rejected frame: %v", sess.ID, err)
		if err := writeWSJSON(ctx, conn, types.ErrorMessage{Error: err.Error()}); err != nil {
			return
		}
	}
}

func writeScenario(ctx context.Context, conn *websocket.Conn, msg *types.ScenarioMessage, asJSON bool) error {
	if asJSON {
		return writeWSJSON(ctx, conn, msg)
	}
	wsLog.Info("Scenario detected: %s", msg.Scenario)
	return conn.Write(ctx, websocket.MessageText, []byte(msg.Scenario))
}

func writeWSJSON(ctx context.Context, conn *websocket.Conn, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
