package notify

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// WSHandler upgrades HTTP requests to websocket subscriptions on a
// single lot topic.
type WSHandler struct {
	hub    *Hub
	logger zerolog.Logger
}

// NewWSHandler creates a websocket handler over the hub.
func NewWSHandler(hub *Hub, logger zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:    hub,
		logger: logger.With().Str("component", "notify-ws").Logger(),
	}
}

// ServeHTTP accepts a websocket connection and streams the lot's events
// until the client disconnects. The stream carries no history and no
// acknowledgements; it is a live feed only.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lotID := mux.Vars(r)["id"]
	if lotID == "" {
		http.Error(w, "missing lot id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Str("lot_id", lotID).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	events, cancel := h.hub.Subscribe(lotID)
	defer cancel()

	h.logger.Debug().Str("lot_id", lotID).Msg("Subscriber connected")

	// We never expect inbound messages; CloseRead surfaces client
	// disconnects through ctx.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := h.write(ctx, conn, event); err != nil {
				h.logger.Debug().Err(err).Str("lot_id", lotID).Msg("Subscriber write failed")
				return
			}
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, event Event) error {
	return wsjson.Write(ctx, conn, event)
}
