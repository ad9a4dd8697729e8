package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

const writeWait = 10 * time.Second

func DoctorTopic(id uuid.UUID) string  { return "doctor:" + id.String() }
func PatientTopic(id uuid.UUID) string { return "patient:" + id.String() }

// Client is one websocket subscriber.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
}

func NewClient(topics ...string) *Client {
	return &Client{
		ID:     uuid.NewString(),
		Topics: topics,
		Send:   make(chan []byte, 256),
	}
}

// Hub tracks subscribers by topic. It is an appointment.Emitter: every
// event goes to the doctor's and the patient's topic.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[*Client]struct{}
	all       map[*Client]struct{}
	logger    zerolog.Logger
	writeWait time.Duration
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:   make(map[string]map[*Client]struct{}),
		all:       make(map[*Client]struct{}),
		logger:    logger,
		writeWait: writeWait,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
	}
}

// Unregister drops the client and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) Broadcast(topic string, data []byte) int {
	return h.Publish(data, topic)
}

// Publish delivers data once to every client subscribed to any of the
// topics, however many of them a client holds.
func (h *Hub) Publish(data []byte, topics ...string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Client]struct{})
	sent := 0
	for _, topic := range topics {
		for client := range h.clients[topic] {
			if _, dup := seen[client]; dup {
				continue
			}
			seen[client] = struct{}{}
			select {
			case client.Send <- data:
				sent++
			default:
				// Slow reader; drop rather than block the emitter.
			}
		}
	}
	return sent
}

func (h *Hub) Emit(_ context.Context, ev appointment.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("type", ev.Type).Msg("websocket: marshal event")
		return
	}
	h.Publish(data, DoctorTopic(ev.DoctorID), PatientTopic(ev.PatientID))
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeHTTP upgrades the request and subscribes it to the topics named by
// the doctor_id and patient_id query parameters.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topics, err := topicsFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(topics...)
	h.Register(client)

	go h.writePump(client, ws)
	go h.readPump(client, ws)
}

func topicsFromQuery(r *http.Request) ([]string, error) {
	var topics []string
	for param, topic := range map[string]func(uuid.UUID) string{
		"doctor_id":  DoctorTopic,
		"patient_id": PatientTopic,
	} {
		raw := strings.TrimSpace(r.URL.Query().Get(param))
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, appointment.NewError(appointment.ErrValidation, "invalid "+param)
		}
		topics = append(topics, topic(id))
	}
	if len(topics) == 0 {
		return nil, appointment.NewError(appointment.ErrValidation, "doctor_id or patient_id is required")
	}
	return topics, nil
}

// readPump only watches for the close; subscribers do not send anything.
func (h *Hub) readPump(client *Client, ws *websocket.Conn) {
	defer func() {
		h.Unregister(client)
		_ = ws.Close()
	}()
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump stops at the first write that misses the write deadline, which
// also ends the read side once the connection is closed.
func (h *Hub) writePump(client *Client, ws *websocket.Conn) {
	defer ws.Close()
	for message := range client.Send {
		if err := ws.SetWriteDeadline(time.Now().Add(h.writeWait)); err != nil {
			return
		}
		if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Debug().Err(err).Str("client_id", client.ID).Msg("websocket write failed")
			return
		}
	}
	_ = ws.SetWriteDeadline(time.Now().Add(h.writeWait))
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
