package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/aristath/frontier/internal/modules/optimization"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// requestReadTimeout bounds the wait for the opening frontier request
const requestReadTimeout = 10 * time.Second

// Stream message types
const (
	MessageBatch = "batch"
	MessageDone  = "done"
	MessageError = "error"
)

// StreamMessage is one frame sent on /api/frontier/stream.
// Batches arrive in trial order; Offset is the index of the first point.
type StreamMessage struct {
	Type   string                       `json:"type"`
	Offset int                          `json:"offset"`
	Points []optimization.FrontierPoint `json:"points,omitempty"`
	Result *optimization.FrontierResult `json:"result,omitempty"`
	Error  *ErrorBody                   `json:"error,omitempty"`
}

// HandleFrontierStream handles GET /api/frontier/stream.
// The client sends one PortfolioRequest; the server answers with batch messages
// followed by a single done message, or an error message.
func (h *Handler) HandleFrontierStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to accept WebSocket")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected server error")

	ctx := r.Context()

	var req PortfolioRequest
	readCtx, cancel := context.WithTimeout(ctx, requestReadTimeout)
	err = wsjson.Read(readCtx, conn, &req)
	cancel()
	if err != nil {
		h.log.Debug().Err(err).Msg("No frontier request received")
		conn.Close(websocket.StatusPolicyViolation, "expected a frontier request")
		return
	}

	p, err := h.resolve(req)
	if err != nil {
		h.sendError(ctx, conn, ErrorBody{Kind: KindBadRequest, Message: err.Error()})
		return
	}

	batches := 0
	result, err := h.service.StreamFrontier(ctx, p.assets, p.lookback, p.trials, p.seed,
		func(offset int, batch []optimization.FrontierPoint) error {
			batches++
			return wsjson.Write(ctx, conn, StreamMessage{Type: MessageBatch, Offset: offset, Points: batch})
		})
	if err != nil {
		_, kind := classify(err)
		h.log.Warn().Err(err).Str("kind", kind).Int("batches", batches).Msg("Frontier stream failed")
		h.sendError(ctx, conn, ErrorBody{Kind: kind, Message: err.Error()})
		return
	}

	if err := wsjson.Write(ctx, conn, StreamMessage{Type: MessageDone, Result: result}); err != nil {
		h.log.Warn().Err(err).Str("id", result.ID).Msg("Failed to send stream completion")
		return
	}

	h.log.Debug().
		Str("id", result.ID).
		Int("batches", batches).
		Uint64("seed", result.Seed).
		Msg("Frontier stream completed")

	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) sendError(ctx context.Context, conn *websocket.Conn, body ErrorBody) {
	if err := wsjson.Write(ctx, conn, StreamMessage{Type: MessageError, Error: &body}); err != nil {
		h.log.Debug().Err(err).Msg("Failed to send stream error")
		return
	}
	conn.Close(websocket.StatusNormalClosure, body.Kind)
}
