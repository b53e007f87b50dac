package handler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"canvas-backend/internal/commit"
	"canvas-backend/internal/config"
	"canvas-backend/internal/drag"
	"canvas-backend/internal/geometry"
	"canvas-backend/internal/ghost"
	"canvas-backend/internal/model"
	"canvas-backend/internal/presence"
	"canvas-backend/internal/snapshot"
	"canvas-backend/internal/store"
)

// =============================================================================
// Canvas Hub - per-page WebSocket rooms
// =============================================================================

// ChannelFactory builds the presence channel for a page.
type ChannelFactory func(pageID string) presence.Channel

// CanvasHub manages all page rooms and their connections.
type CanvasHub struct {
	rooms    map[string]*PageRoom
	mu       sync.RWMutex
	store    store.Store
	commits  *commit.Service
	channels ChannelFactory
	cfg      *config.Config
	log      *zap.Logger
}

// PageRoom fans one page's shape and presence state out to its clients.
type PageRoom struct {
	ID      string
	Clients map[string]*Client
	snap    *snapshot.Snapshot
	channel presence.Channel
	hub     *CanvasHub
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex

	unsubStore    func()
	unsubPresence func()
}

// Client is one websocket connection with its private drag session.
type Client struct {
	ID      string
	UserID  string
	Conn    *websocket.Conn
	writeMu sync.Mutex
	Overlay *snapshot.Overlay
	Drag    *drag.Controller
}

// inboundMessage is what clients send over the sync socket.
type inboundMessage struct {
	Type      string   `json:"type"` // drag_start | drag_move | drag_end | drag_abort | cursor | select
	ShapeID   string   `json:"shape_id,omitempty"`
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
	Selection []string `json:"selection,omitempty"`
}

// shapesMessage carries the effective render list for one client.
type shapesMessage struct {
	Type         string             `json:"type"` // "shapes"
	Shapes       []*model.ShapeNode `json:"shapes"`
	HoveredFrame string             `json:"hovered_frame,omitempty"`
}

// presenceMessage carries live peers plus the derived ghost overlays.
// Ghosts are per recipient: a user never sees a ghost of their own gesture
// or of a shape they are dragging themselves.
type presenceMessage struct {
	Type   string                          `json:"type"` // "presence"
	Peers  map[string]model.PresenceRecord `json:"peers"`
	Ghosts []ghost.Ghost                   `json:"ghosts"`
}

// NewCanvasHub creates a new CanvasHub instance.
func NewCanvasHub(st store.Store, commits *commit.Service, channels ChannelFactory, cfg *config.Config, log *zap.Logger) *CanvasHub {
	return &CanvasHub{
		rooms:    make(map[string]*PageRoom),
		store:    st,
		commits:  commits,
		channels: channels,
		cfg:      cfg,
		log:      log,
	}
}

// GetOrCreateRoom gets an existing room or creates a new one.
func (h *CanvasHub) GetOrCreateRoom(pageID string) *PageRoom {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, exists := h.rooms[pageID]; exists {
		return room
	}

	ctx, cancel := context.WithCancel(context.Background())
	room := &PageRoom{
		ID:      pageID,
		Clients: make(map[string]*Client),
		snap:    snapshot.New(pageID),
		channel: h.channels(pageID),
		hub:     h,
		ctx:     ctx,
		cancel:  cancel,
	}

	storeCh, unsubStore := h.store.Subscribe(pageID)
	room.unsubStore = unsubStore
	presCh, unsubPresence := room.channel.Subscribe(ctx)
	room.unsubPresence = unsubPresence

	go room.runStoreEvents(storeCh)
	go room.runPresenceEvents(presCh)

	h.rooms[pageID] = room
	h.log.Info("created page room", zap.String("page", pageID))

	return room
}

// RemoveRoom shuts down and removes an empty room.
func (h *CanvasHub) RemoveRoom(pageID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, exists := h.rooms[pageID]; exists {
		room.shutdown()
		delete(h.rooms, pageID)
		h.log.Info("removed page room", zap.String("page", pageID))
	}
}

// PagePresence serves live peers and ghost overlays over REST for clients
// polling instead of holding a socket. An active room answers from its own
// state; otherwise the channel and store are read directly.
func (h *CanvasHub) PagePresence(c *fiber.Ctx) error {
	pageID := c.Params("pageId")
	userID, _ := c.Locals("userID").(string)

	h.mu.RLock()
	room := h.rooms[pageID]
	h.mu.RUnlock()

	var (
		records map[string]model.PresenceRecord
		err     error
		snap    *snapshot.Snapshot
	)
	if room != nil {
		records, err = room.channel.Snapshot(c.Context())
		snap = room.snap
	} else {
		channel := h.channels(pageID)
		defer channel.Close()
		records, err = channel.Snapshot(c.Context())
		snap = snapshot.New(pageID)
		if shapes, lerr := h.store.ListPage(c.Context(), pageID); lerr == nil {
			snap.Replace(shapes)
		}
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to read presence"})
	}

	now := time.Now()
	live := presence.Live(records, now)
	return c.JSON(fiber.Map{
		"success": true,
		"peers":   live,
		"ghosts":  ghost.Ghosts(live, snap, userID, nil, now),
	})
}

// HandleConnection is the websocket entry point. The upgrade middleware has
// already authenticated the user and resolved the page.
func (h *CanvasHub) HandleConnection(conn *websocket.Conn) {
	pageID, _ := conn.Locals("pageID").(string)
	userID, _ := conn.Locals("userID").(string)
	if pageID == "" || userID == "" {
		conn.Close()
		return
	}

	room := h.GetOrCreateRoom(pageID)
	client := room.addClient(userID, conn)
	defer room.removeClient(client)

	room.pushShapes(client)
	if records, err := room.channel.Snapshot(room.ctx); err == nil {
		room.pushPresence(client, presence.Live(records, time.Now()))
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.log.Debug("bad ws message", zap.String("user", userID), zap.Error(err))
			continue
		}
		room.dispatch(client, &msg)
	}
}

// =============================================================================
// Room methods
// =============================================================================

func (r *PageRoom) addClient(userID string, conn *websocket.Conn) *Client {
	overlay := snapshot.NewOverlay()
	client := &Client{
		ID:      uuid.NewString(),
		UserID:  userID,
		Conn:    conn,
		Overlay: overlay,
	}
	client.Drag = drag.NewController(
		userID,
		r.snap,
		overlay,
		r.hub.commits,
		r.channel,
		r.hub.cfg.Sync.CommitMinInterval,
		r.hub.cfg.Sync.PresencePublishInterval,
		r.hub.log,
	)

	r.mu.Lock()
	r.Clients[client.ID] = client
	total := len(r.Clients)
	r.mu.Unlock()

	r.hub.log.Info("client joined page",
		zap.String("page", r.ID), zap.String("user", userID), zap.Int("total", total))
	return client
}

func (r *PageRoom) removeClient(client *Client) {
	// Session teardown: cancel pending commit timers and clear the gesture
	// so no ghost or commit outlives the connection.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	client.Drag.Close(ctx)

	r.mu.Lock()
	delete(r.Clients, client.ID)
	remaining := len(r.Clients)
	sameUser := false
	for _, other := range r.Clients {
		if other.UserID == client.UserID {
			sameUser = true
			break
		}
	}
	r.mu.Unlock()

	// The same user may hold another connection to this page; their presence
	// record stays until the last one closes.
	if !sameUser {
		if err := r.channel.Clear(ctx, client.UserID); err != nil {
			r.hub.log.Debug("presence clear failed", zap.String("user", client.UserID), zap.Error(err))
		}
	}
	cancel()

	r.hub.log.Info("client left page",
		zap.String("page", r.ID), zap.String("user", client.UserID), zap.Int("remaining", remaining))

	if remaining == 0 {
		go r.hub.RemoveRoom(r.ID)
	}
}

func (r *PageRoom) dispatch(client *Client, msg *inboundMessage) {
	switch msg.Type {
	case "drag_start":
		client.Drag.DragStart(msg.ShapeID)
	case "drag_move":
		if msg.X == nil || msg.Y == nil {
			return
		}
		client.Drag.DragMove(msg.ShapeID, *msg.X, *msg.Y)
		r.pushShapes(client)
	case "drag_end":
		var final *geometry.Point
		if msg.X != nil && msg.Y != nil {
			final = &geometry.Point{X: *msg.X, Y: *msg.Y}
		}
		client.Drag.DragEnd(msg.ShapeID, final)
		r.pushShapes(client)
	case "drag_abort":
		ctx, cancel := context.WithTimeout(r.ctx, 2*time.Second)
		client.Drag.Abort(ctx)
		cancel()
		r.pushShapes(client)
	case "cursor":
		if msg.X == nil || msg.Y == nil {
			return
		}
		client.Drag.Cursor(*msg.X, *msg.Y)
	case "select":
		client.Drag.SetSelection(msg.Selection)
	default:
		r.hub.log.Debug("unknown ws message type", zap.String("type", msg.Type))
	}
}

// runStoreEvents applies authoritative updates: replace the snapshot, let
// every session reconcile its overrides, then push the effective list.
func (r *PageRoom) runStoreEvents(ch <-chan []*model.ShapeNode) {
	for {
		select {
		case <-r.ctx.Done():
			return
		case shapes, ok := <-ch:
			if !ok {
				return
			}
			r.snap.Replace(shapes)
			for _, client := range r.clientList() {
				client.Drag.OnSnapshot()
				r.pushShapes(client)
			}
		}
	}
}

func (r *PageRoom) runPresenceEvents(ch <-chan map[string]model.PresenceRecord) {
	for {
		select {
		case <-r.ctx.Done():
			return
		case records, ok := <-ch:
			if !ok {
				return
			}
			live := presence.Live(records, time.Now())
			for _, client := range r.clientList() {
				r.pushPresence(client, live)
			}
		}
	}
}

func (r *PageRoom) pushShapes(client *Client) {
	r.send(client, shapesMessage{
		Type:         "shapes",
		Shapes:       snapshot.Effective(r.snap, client.Overlay),
		HoveredFrame: client.Drag.HoveredFrame(),
	})
}

func (r *PageRoom) pushPresence(client *Client, live map[string]model.PresenceRecord) {
	r.send(client, presenceMessage{
		Type:   "presence",
		Peers:  live,
		Ghosts: ghost.Ghosts(live, r.snap, client.UserID, client.Drag.Dragging, time.Now()),
	})
}

func (r *PageRoom) send(client *Client, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.hub.log.Warn("failed to marshal ws payload", zap.Error(err))
		return
	}
	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	if err := client.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
		r.hub.log.Debug("failed to write to client",
			zap.String("user", client.UserID), zap.Error(err))
	}
}

func (r *PageRoom) clientList() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]*Client, 0, len(r.Clients))
	for _, c := range r.Clients {
		clients = append(clients, c)
	}
	return clients
}

func (r *PageRoom) shutdown() {
	r.cancel()
	if r.unsubStore != nil {
		r.unsubStore()
	}
	if r.unsubPresence != nil {
		r.unsubPresence()
	}
	if err := r.channel.Close(); err != nil {
		r.hub.log.Debug("presence channel close failed", zap.Error(err))
	}
}
