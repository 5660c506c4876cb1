package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the client.
	defaultPongWait = 60 * time.Second
)

// PaymentCountdown streams the seconds left in the order's payment window.
// The stream is informational; the deadline itself is enforced server-side.
// It ends once the order stops awaiting online payment.
func (h *HTTPHandler) PaymentCountdown(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !order.VisibleTo(actor) {
		writeError(w, http.StatusForbidden, "forbidden", "order belongs to another customer")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", "order_id", id, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go readPump(conn, h.pongWait, cancel)

	ticker := time.NewTicker(h.countdownInterval)
	defer ticker.Stop()
	// pings must land before the client's read deadline passes
	pinger := time.NewTicker(h.pongWait * 9 / 10)
	defer pinger.Stop()

	for {
		msg := h.countdownFrame(order)
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
		if !order.AwaitingOnlinePayment() {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(order.Status)))
			return
		}

		if !awaitTick(ctx, conn, ticker.C, pinger.C) {
			return
		}

		order, err = h.orders.GetOrder(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logger.Warn("ws: reload order failed", "order_id", id, "error", err)
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "order unavailable"))
			return
		}
	}
}

// awaitTick pings the client until the next countdown tick. It reports false
// once the stream should stop.
func awaitTick(ctx context.Context, conn *websocket.Conn, tick, ping <-chan time.Time) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-tick:
			return true
		case <-ping:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return false
			}
		}
	}
}

func (h *HTTPHandler) countdownFrame(order *domain.Order) CountdownMessage {
	msg := CountdownMessage{
		OrderID:       order.ID,
		Status:        order.Status,
		PaymentStatus: string(order.PaymentStatus),
		Expired:       order.ExpiredUnpaid(),
	}
	if order.AwaitingOnlinePayment() && order.PaymentExpiresAt != nil {
		remaining := order.PaymentExpiresAt.Sub(h.now())
		if remaining > 0 {
			msg.RemainingSeconds = int64((remaining + time.Second - 1) / time.Second)
		}
	}
	return msg
}

// readPump drains client frames so pings and close frames are processed, and
// cancels the stream when the client goes away.
func readPump(conn *websocket.Conn, pongWait time.Duration, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
