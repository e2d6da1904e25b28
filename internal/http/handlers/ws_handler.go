package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/escrow-marketplace/backend/internal/auth"
	"github.com/escrow-marketplace/backend/internal/config"
	"github.com/escrow-marketplace/backend/internal/events"
	"github.com/escrow-marketplace/backend/internal/market"
	"github.com/escrow-marketplace/backend/internal/services"
	"github.com/gagliardetto/solana-go"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	searchDebounce = 300 * time.Millisecond
	searchTimeout  = 10 * time.Second
)

// wsMessage is what clients send. Only "search" and "ping" are understood.
type wsMessage struct {
	Type       string `json:"type"`
	Storefront string `json:"storefront"`
	Query      string `json:"q"`
	TradeType  string `json:"trade_type"`
	Currency   string `json:"currency"`
	Class      string `json:"class"`
}

type wsClient struct {
	conn   *websocket.Conn
	mu     sync.Mutex // serializes writes
	wallet *solana.PublicKey
	search *market.Debouncer
}

func (c *wsClient) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteMessage(websocket.TextMessage, data)
}

type WSHub struct {
	cfg           *config.Config
	subscriber    events.Subscriber
	marketService *services.MarketService
	log           *zap.Logger
	mu            sync.RWMutex
	clients       map[*wsClient]struct{}
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, marketService *services.MarketService, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:           cfg,
		subscriber:    subscriber,
		marketService: marketService,
		log:           log,
		clients:       make(map[*wsClient]struct{}),
	}
}

func (h *WSHub) Start(ctx context.Context) {
	if err := h.subscriber.Subscribe(ctx, events.StreamEscrow, func(event events.Event) {
		h.broadcast(event)
	}); err != nil {
		h.log.Error("ws hub: failed to subscribe to escrow events", zap.Error(err))
	}
}

func (h *WSHub) broadcast(event events.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		c.send(event)
	}
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// HandleWS serves anonymous clients too; a token only makes search
// results balance-aware.
func (h *WSHub) HandleWS(conn *websocket.Conn) {
	client := &wsClient{conn: conn, search: market.NewDebouncer(searchDebounce)}

	if tokenStr := conn.Query("token"); tokenStr != "" {
		claims, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr)
		if err != nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
			conn.Close()
			return
		}
		if w, err := solana.PublicKeyFromBase58(claims.Wallet); err == nil {
			client.wallet = &w
		}
	}

	// Register
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	defer func() {
		client.search.Stop()
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "ping":
			client.send(fiber.Map{"type": "pong"})
		case "search":
			client.search.Trigger(func() { h.runSearch(client, msg) })
		}
	}
}

// runSearch answers only the last search typed within the debounce window.
func (h *WSHub) runSearch(client *wsClient, msg wsMessage) {
	f, err := parseFilter(msg.TradeType, msg.Currency, msg.Class, msg.Query)
	if err != nil {
		client.send(fiber.Map{"type": "search_error", "error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
	defer cancel()

	listings, err := h.marketService.Listings(ctx, msg.Storefront, f, client.wallet)
	if err != nil {
		h.log.Debug("ws search failed", zap.String("storefront", msg.Storefront), zap.Error(err))
		client.send(fiber.Map{"type": "search_error", "error": "search failed"})
		return
	}
	client.send(fiber.Map{
		"type":       "search_results",
		"storefront": msg.Storefront,
		"q":          msg.Query,
		"data":       listings,
	})
}
