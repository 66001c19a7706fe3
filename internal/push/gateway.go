package push

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/hellolucient/Open-DCAs/internal/infrastructure"
	"github.com/hellolucient/Open-DCAs/internal/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// PushGateway fans JetStream snapshot and chart subjects out to dashboard
// websocket clients. Clients send {"action":"subscribe","topic":...}
// messages; only the dca.* subjects are valid topics.
type PushGateway struct {
	logger        *zap.Logger
	js            nats.JetStreamContext
	store         *store.SnapshotStore
	clients       map[*Client]bool
	subscriptions map[string]map[*Client]bool
	natsSubs      map[string]*nats.Subscription
	mu            sync.RWMutex
}

func NewPushGateway(js nats.JetStreamContext, snapshots *store.SnapshotStore, logger *zap.Logger) *PushGateway {
	return &PushGateway{
		logger:        logger,
		js:            js,
		store:         snapshots,
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		natsSubs:      make(map[string]*nats.Subscription),
	}
}

// validTopic restricts subscriptions to the subjects this service publishes.
func validTopic(topic string) bool {
	if topic == infrastructure.SubjectSnapshot {
		return true
	}
	return strings.HasPrefix(topic, infrastructure.SubjectChart+".")
}

func (g *PushGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("failed to upgrade websocket", zap.Error(err))
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
	}

	g.mu.Lock()
	g.clients[client] = true
	g.mu.Unlock()
	infrastructure.WSConnections.Inc()

	go g.writePump(client)
	g.readPump(client)
}

func (g *PushGateway) readPump(c *Client) {
	defer func() {
		g.mu.Lock()
		delete(g.clients, c)
		for topic, clients := range g.subscriptions {
			delete(clients, c)
			g.dropTopicIfEmptyLocked(topic)
		}
		g.mu.Unlock()
		infrastructure.WSConnections.Dec()
		close(c.send)
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var req struct {
			Action string `json:"action"` // "subscribe", "unsubscribe"
			Topic  string `json:"topic"`
		}
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}

		switch req.Action {
		case "subscribe":
			g.subscribe(c, req.Topic)
		case "unsubscribe":
			g.unsubscribe(c, req.Topic)
		}
	}
}

func (g *PushGateway) subscribe(c *Client, topic string) {
	if !validTopic(topic) {
		g.logger.Warn("rejected subscription to unknown topic", zap.String("topic", topic))
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.subscriptions[topic] == nil {
		g.subscriptions[topic] = make(map[*Client]bool)
		if err := g.subscribeToNATS(topic); err != nil {
			g.logger.Error("failed to subscribe to NATS", zap.String("topic", topic), zap.Error(err))
		}
	}
	g.subscriptions[topic][c] = true
	g.logger.Info("client subscribed to topic", zap.String("topic", topic))

	// New snapshot subscribers get the retained state right away instead of
	// waiting out the rest of the poll interval.
	if topic == infrastructure.SubjectSnapshot {
		if latest := g.store.Latest(); latest != nil {
			if data, err := json.Marshal(latest); err == nil {
				select {
				case c.send <- data:
				default:
				}
			}
		}
	}
}

func (g *PushGateway) unsubscribe(c *Client, topic string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if clients, ok := g.subscriptions[topic]; ok {
		delete(clients, c)
		g.dropTopicIfEmptyLocked(topic)
	}
}

// dropTopicIfEmptyLocked tears down the NATS subscription once the last
// websocket client for a topic is gone. Callers must hold g.mu.
func (g *PushGateway) dropTopicIfEmptyLocked(topic string) {
	clients, ok := g.subscriptions[topic]
	if !ok || len(clients) > 0 {
		return
	}
	if sub, ok := g.natsSubs[topic]; ok {
		sub.Unsubscribe()
		delete(g.natsSubs, topic)
		g.logger.Info("unsubscribed from NATS as no clients left", zap.String("topic", topic))
	}
	delete(g.subscriptions, topic)
}

func (g *PushGateway) writePump(c *Client) {
	defer c.conn.Close()
	for {
		message, ok := <-c.send
		if !ok {
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

func (g *PushGateway) subscribeToNATS(topic string) error {
	sub, err := g.js.Subscribe(topic, func(msg *nats.Msg) {
		g.mu.RLock()
		clients := g.subscriptions[topic]
		if clients == nil {
			g.mu.RUnlock()
			return
		}

		for c := range clients {
			select {
			case c.send <- msg.Data:
			default:
				// Do not block, just drop if channel is full
			}
		}
		g.mu.RUnlock()
		msg.Ack()
	}, nats.ManualAck(), nats.DeliverNew())

	if err != nil {
		return err
	}

	g.natsSubs[topic] = sub
	g.logger.Info("subscribed to NATS topic", zap.String("topic", topic))
	return nil
}
