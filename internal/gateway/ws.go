package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/flemzord/sgate/internal/relay"
	"github.com/flemzord/sgate/internal/stream"
)

// Websocket frame types.
const (
	frameChat   = "chat"
	frameCancel = "cancel"
	frameDelta  = "delta"
	frameDone   = "done"
	frameError  = "error"
)

// ClientFrame is a message sent by a websocket client. A chat frame starts
// a request; a cancel frame cancels the request with the given id.
type ClientFrame struct {
	Type    string       `json:"type"`
	ID      string       `json:"id,omitempty"`
	Request *ChatRequest `json:"request,omitempty"`
}

// ServerFrame is a message sent to a websocket client.
type ServerFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Delta     *stream.Delta   `json:"delta,omitempty"`
	Response  *relay.Response `json:"response,omitempty"`
	Error     *ErrorBody      `json:"error,omitempty"`
}

// handleStream upgrades to a websocket over which a client can run
// several chat requests concurrently. Requests still running when the
// connection closes are abandoned through context cancellation.
func (g *Gateway) handleStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, _ := callerFrom(r.Context())
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: g.config.OriginPatterns,
		})
		if err != nil {
			g.logger.Warn("websocket accept failed", "error", err)
			return
		}
		conn.SetReadLimit(int64(g.config.MaxBodySize))

		ctx, cancel := context.WithCancel(r.Context())
		var wg sync.WaitGroup
		defer func() {
			cancel()
			wg.Wait()
			_ = conn.CloseNow()
		}()

		for {
			var frame ClientFrame
			if err := wsjson.Read(ctx, conn, &frame); err != nil {
				status := websocket.CloseStatus(err)
				if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
					g.logger.Debug("websocket read ended", "error", err)
				}
				return
			}

			switch frame.Type {
			case frameChat:
				id := frame.ID
				if !validRequestID(id) {
					id = uuid.NewString()
				}
				if frame.Request == nil {
					g.sendFrame(ctx, conn, r, id, fmt.Errorf("%w: chat frame without request", relay.ErrInvalidRequest))
					continue
				}
				req := relayRequest(c, id, frame.Request.Model, frame.Request.call())
				wg.Add(1)
				go func() {
					defer wg.Done()
					g.runStream(ctx, conn, r, req)
				}()
			case frameCancel:
				if err := g.relay.Cancel(ctx, c.Channel, c.Account, frame.ID); err != nil {
					g.sendFrame(ctx, conn, r, frame.ID, err)
				}
			default:
				g.sendFrame(ctx, conn, r, frame.ID, fmt.Errorf("%w: unknown frame type %q", relay.ErrInvalidRequest, frame.Type))
			}
		}
	}
}

// runStream serves one websocket chat request.
func (g *Gateway) runStream(ctx context.Context, conn *websocket.Conn, r *http.Request, req relay.Request) {
	g.stats.RecordStream()
	req.Sink = func(d stream.Delta) {
		_ = wsjson.Write(ctx, conn, ServerFrame{Type: frameDelta, RequestID: req.ID, Delta: &d})
	}

	start := g.now()
	resp, err := g.relay.Handle(ctx, req)
	if err != nil {
		g.stats.RecordError(relay.Code(err))
		g.sendFrame(ctx, conn, r, req.ID, err)
		return
	}
	g.stats.RecordCompletion(totalTokens(resp), g.now().Sub(start))
	_ = wsjson.Write(ctx, conn, ServerFrame{Type: frameDone, RequestID: req.ID, Response: resp})
}

// sendFrame writes err as an error frame.
func (g *Gateway) sendFrame(ctx context.Context, conn *websocket.Conn, r *http.Request, id string, err error) {
	body := g.errorBody(r, relay.Code(err), err)
	body.RequestID = id
	_ = wsjson.Write(ctx, conn, ServerFrame{Type: frameError, RequestID: id, Error: &body})
}
