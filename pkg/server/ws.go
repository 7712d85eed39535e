package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/glazeworks/donutex/pkg/donut"
	"github.com/glazeworks/donutex/pkg/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Observers are anonymous; the exchange is a simulation.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame is the envelope every observer receives.
type wsFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// handleWS upgrades the connection and registers it as an event sink. The
// broadcaster delivers on a single goroutine per sink, so writing to the
// connection from the callbacks needs no extra locking. Delivery is
// best-effort: the sink queue drops oldest under backpressure.
func (s *Server) handleWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	write := func(frame wsFrame) {
		if err := conn.WriteJSON(frame); err != nil {
			// Connection is gone; the read loop below will unregister us.
			_ = conn.Close()
		}
	}

	id := s.bc.Register(events.Sink{
		OnTrade: func(e donut.TradeExecuted) {
			write(wsFrame{Type: "tradeExecuted", Payload: e})
		},
		OnBookUpdated: func(e donut.BookUpdated) {
			write(wsFrame{Type: "bookUpdated", Payload: e})
		},
		OnCustomerPurchased: func(e donut.CustomerPurchased) {
			write(wsFrame{Type: "customerPurchased", Payload: e})
		},
		OnError: func(e donut.ErrorEvent) {
			write(wsFrame{Type: "error", Payload: e})
		},
	})
	s.log.Info().Int("sink", id).Msg("observer connected")

	// Observers only listen; the read loop exists to notice disconnects.
	go func() {
		defer func() {
			s.bc.Unregister(id)
			_ = conn.Close()
			s.log.Info().Int("sink", id).Msg("observer disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	return nil
}
