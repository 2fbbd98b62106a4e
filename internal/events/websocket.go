package events

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Auth and origin policy are enforced upstream of the core.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketBridge streams bus events to connected observers. It is an
// observer surface only; clients cannot publish through it.
type WebSocketBridge struct {
	bus    EventBus
	logger hclog.Logger
}

// NewWebSocketBridge creates a bridge bound to the given bus.
func NewWebSocketBridge(bus EventBus, logger hclog.Logger) *WebSocketBridge {
	return &WebSocketBridge{
		bus:    bus,
		logger: logger.Named("events-ws"),
	}
}

// Handle upgrades the request and forwards matching events until the client
// disconnects. Filter types come from the repeated "type" query parameter.
func (b *WebSocketBridge) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	filter := EventFilter{}
	for _, t := range c.QueryArray("type") {
		filter.Types = append(filter.Types, EventType(t))
	}

	var writeMu sync.Mutex
	closed := make(chan struct{})

	sub := b.bus.Subscribe("websocket:"+c.ClientIP(), filter, func(event Event) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		select {
		case <-closed:
			return nil
		default:
		}
		return conn.WriteJSON(event)
	})
	defer b.bus.Unsubscribe(sub.ID)

	// Drain reads to detect disconnect; inbound frames are ignored.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			close(closed)
			return
		}
	}
}
