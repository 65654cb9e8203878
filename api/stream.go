package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/interflow/engine"
	"github.com/BaSui01/interflow/types"
)

// inboundFrame is a client-to-server message on an open stream. Only
// interrupt messages are accepted; resume decisions go through the HTTP
// input endpoint so they survive disconnects.
type inboundFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// errStreamDone signals a clean end of the event stream.
var errStreamDone = errors.New("stream done")

// streamEventBuffer bounds how far the engine can run ahead of a slow
// socket before token emission blocks.
const streamEventBuffer = 64

// handleStream upgrades to WebSocket and advances the run, relaying every
// engine event as one JSON text frame. Disconnecting mid-stage aborts the
// advance without persisting the partial stage; reattaching re-executes
// it from the last committed boundary.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if !isWebSocketRequest(r) {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidationFailure, "websocket upgrade required", h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	logger := h.logger.With(zap.String("run_id", runID))
	logger.Info("stream attached")

	g, gctx := errgroup.WithContext(r.Context())
	events := make(chan engine.Event, streamEventBuffer)

	// Advance pump: drives the run and feeds the writer. Engine failures
	// already surface as error frames; advance errors that reach here are
	// either transport aborts or pre-stream rejections.
	g.Go(func() error {
		defer close(events)
		_, err := h.engine.Advance(gctx, runID, func(ev engine.Event) {
			select {
			case events <- ev:
			case <-gctx.Done():
			}
		})
		if err == nil || gctx.Err() != nil {
			return nil
		}
		if code := types.GetErrorCode(err); code == types.ErrUnknownRun || code == types.ErrRunBusy {
			select {
			case events <- engine.Event{
				Kind:    engine.EventError,
				RunID:   runID,
				Payload: map[string]any{"code": string(code), "error": err.Error()},
			}:
			case <-gctx.Done():
			}
		}
		return nil
	})

	// Writer pump: the only goroutine writing to the socket.
	g.Go(func() error {
		for ev := range events {
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			if err := conn.Write(gctx, websocket.MessageText, data); err != nil {
				return err
			}
		}
		return errStreamDone
	})

	// Reader pump: accepts rate-limited interrupt frames and detects
	// disconnects, which cancel the advance via the group context.
	g.Go(func() error {
		limiter := rate.NewLimiter(rate.Every(time.Second), 5)
		for {
			_, data, err := conn.Read(gctx)
			if err != nil {
				return err
			}
			if !limiter.Allow() {
				logger.Warn("interrupt frame dropped by rate limit")
				continue
			}
			var frame inboundFrame
			if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "interrupt" {
				continue
			}
			if _, err := h.engine.InterruptMessage(gctx, runID, frame.Message); err != nil {
				logger.Warn("interrupt message rejected", zap.Error(err))
			}
		}
	})

	err = g.Wait()
	switch {
	case errors.Is(err, errStreamDone):
		conn.Close(websocket.StatusNormalClosure, "")
		logger.Info("stream completed")
	case errors.Is(err, context.Canceled), websocket.CloseStatus(err) != -1:
		logger.Info("stream detached")
	default:
		logger.Warn("stream failed", zap.Error(err))
	}
}
