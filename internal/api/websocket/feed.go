package websocket

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tradecore/matchd/internal/engine"
)

// clientQueueSize bounds the per-client send buffer. A client that falls
// this far behind is dropped rather than allowed to stall the feed.
const clientQueueSize = 256

// tradeEvent is the JSON shape pushed to feed subscribers.
type tradeEvent struct {
	ProductID        uint16 `json:"product_id"`
	BuyOrderID       uint64 `json:"buy_order_id"`
	SellOrderID      uint64 `json:"sell_order_id"`
	Price            uint64 `json:"price"`
	Quantity         uint32 `json:"quantity"`
	TradeTimeNetwork uint32 `json:"trade_time_network_ns"`
	IsMock           bool   `json:"is_mock,omitempty"`
}

// Hub fans broadcast executions out to websocket subscribers. Publish never
// blocks the broadcaster: each client has a bounded queue and slow clients
// are disconnected.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

// NewHub creates an empty feed hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// Publish implements the pipeline trade sink.
func (h *Hub) Publish(executions []engine.OrderExecution) {
	h.mu.RLock()
	idle := len(h.clients) == 0
	h.mu.RUnlock()
	if idle {
		return
	}

	events := make([]tradeEvent, len(executions))
	for i := range executions {
		x := &executions[i]
		events[i] = tradeEvent{
			ProductID:        x.ProductID,
			BuyOrderID:       x.BuyOrderID,
			SellOrderID:      x.SellOrderID,
			Price:            x.Price,
			Quantity:         x.Quantity,
			TradeTimeNetwork: x.TradeTimeNetwork,
			IsMock:           x.IsMock,
		}
	}
	payload, err := json.Marshal(events)
	if err != nil {
		h.logger.Error("failed to marshal trade events", zap.Error(err))
		return
	}

	h.mu.Lock()
	for conn, queue := range h.clients {
		select {
		case queue <- payload:
		default:
			h.logger.Warn("dropping slow feed client", zap.String("remote", conn.RemoteAddr().String()))
			delete(h.clients, conn)
			close(queue)
		}
	}
	h.mu.Unlock()
}

// HandleConnection upgrades an HTTP request and serves the feed until the
// client disconnects.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	queue := make(chan []byte, clientQueueSize)
	h.mu.Lock()
	h.clients[conn] = queue
	h.mu.Unlock()

	go h.writePump(conn, queue)
	go h.readPump(conn)
}

func (h *Hub) writePump(conn *websocket.Conn, queue chan []byte) {
	defer conn.Close()
	for payload := range queue {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.drop(conn)
			return
		}
	}
}

// readPump discards inbound messages; the feed is one-way. It exists to
// notice disconnects and answer control frames.
func (h *Hub) readPump(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("feed client read error", zap.Error(err))
			}
			h.drop(conn)
			return
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if queue, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(queue)
	}
	h.mu.Unlock()
	conn.Close()
}

// ClientCount reports the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
