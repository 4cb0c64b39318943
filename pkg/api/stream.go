package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/sqlask/internal/tracing"
	"github.com/harun/sqlask/pkg/agent"
)

const (
	streamWriteWait = 10 * time.Second
	streamMaxFrame  = 64 << 10
)

// StreamFrame is one server-to-client websocket message.
type StreamFrame struct {
	Type     string          `json:"type"`
	Step     int             `json:"step,omitempty"`
	ToolCall *agent.ToolCall `json:"tool_call,omitempty"`
	Result   string          `json:"result,omitempty"`
	Response string          `json:"response,omitempty"`
	Metadata *agent.Metadata `json:"metadata,omitempty"`
	Detail   string          `json:"detail,omitempty"`
	Status   int             `json:"status,omitempty"`
}

// handleStream serves chat over a websocket. Each client frame is a
// ChatRequest; the server replies with step frames followed by a single
// answer or error frame.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(streamMaxFrame)
	key := clientKey(r)
	logger := tracing.LoggerFromContext(r.Context(), s.logger)
	logger.Debug().Str("client", key).Msg("Stream client connected")

	var writeMu sync.Mutex
	send := func(frame StreamFrame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(frame)
	}

	for {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("Stream read failed")
			}
			return
		}

		if strings.TrimSpace(req.Query) == "" {
			if send(StreamFrame{Type: "error", Detail: "query is required", Status: http.StatusBadRequest}) != nil {
				return
			}
			continue
		}

		observer := func(ev agent.Event) {
			if ev.Type == agent.EventAnswer || ev.Type == agent.EventFallback {
				return
			}
			_ = send(StreamFrame{
				Type:     string(ev.Type),
				Step:     ev.Step,
				ToolCall: ev.ToolCall,
				Result:   ev.Result,
			})
		}

		result, status, err := s.runChat(r.Context(), key, req, observer)
		if err != nil {
			if send(StreamFrame{Type: "error", Detail: err.Error(), Status: status}) != nil {
				return
			}
			continue
		}

		meta := result.Metadata
		if send(StreamFrame{Type: "answer", Response: result.Answer, Metadata: &meta}) != nil {
			return
		}
	}
}
