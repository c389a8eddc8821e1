package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"voxelmesh.ai/internal/protocol"
	"voxelmesh.ai/internal/sim/lifecycle"
	"voxelmesh.ai/internal/sim/voxel"
)

// Controller is the part of the chunk manager that clients may drive.
type Controller interface {
	SetVisible(ctx context.Context, keys []voxel.ChunkKey) error
	SetVoxel(ctx context.Context, x, y, z int, t uint16) error
}

type client struct {
	id   string
	name string
	out  chan []byte
}

// Hub streams meshes to websocket clients. It implements lifecycle.MeshSink
// and keeps the latest encoded MESH per loaded chunk for late joiners.
type Hub struct {
	ctrl      Controller
	params    protocol.MeshParams
	log       *log.Logger
	queueSize int

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
	latest  map[voxel.ChunkKey][]byte

	sent    *atomic.Uint64
	dropped *atomic.Uint64
}

func NewHub(ctrl Controller, params protocol.MeshParams, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Hub{
		ctrl:      ctrl,
		params:    params,
		log:       logger,
		queueSize: 256,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 256 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		clients: map[string]*client{},
		latest:  map[voxel.ChunkKey][]byte{},
		sent:    atomic.NewUint64(0),
		dropped: atomic.NewUint64(0),
	}
}

// OnMesh implements lifecycle.MeshSink.
func (h *Hub) OnMesh(m lifecycle.ChunkMesh) {
	b, err := json.Marshal(protocol.NewMesh(m))
	if err != nil {
		h.log.Printf("encode mesh %s: %v", m.Key, err)
		return
	}
	h.mu.Lock()
	h.latest[m.Key] = b
	h.mu.Unlock()
	h.broadcast(b)
}

// Evict implements lifecycle.MeshSink.
func (h *Hub) Evict(key voxel.ChunkKey) {
	h.mu.Lock()
	_, had := h.latest[key]
	delete(h.latest, key)
	h.mu.Unlock()
	if !had {
		return
	}
	b, _ := json.Marshal(protocol.NewEvict(key.String()))
	h.broadcast(b)
}

func (h *Hub) broadcast(b []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.sendLatest(c.out, b)
	}
}

// sendLatest never blocks the caller: when the client queue is full the
// oldest message is dropped.
func (h *Hub) sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		h.sent.Inc()
		return
	default:
	}
	select {
	case <-ch:
		h.dropped.Inc()
	default:
	}
	select {
	case ch <- b:
		h.sent.Inc()
	default:
		h.dropped.Inc()
	}
}

type Stats struct {
	Clients int
	Cached  int
	Sent    uint64
	Dropped uint64
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Clients: len(h.clients),
		Cached:  len(h.latest),
		Sent:    h.sent.Load(),
		Dropped: h.dropped.Load(),
	}
}

func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c, wantSnapshot := h.handshake(conn)
		if c == nil {
			return
		}
		defer h.unregister(c)
		h.log.Printf("session %s (%s) connected from %s", c.id, c.name, r.RemoteAddr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		if wantSnapshot {
			for _, b := range h.cached() {
				select {
				case c.out <- b:
				case <-ctx.Done():
					return
				}
			}
		}

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			h.handleMessage(ctx, c, msg)
		}
		h.log.Printf("session %s disconnected", c.id)
	}
}

func (h *Hub) handshake(conn *websocket.Conn) (*client, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil, false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil, false
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoVersion, "want protocol_version "+protocol.Version))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil, false
	}
	if hello.ClientName == "" {
		hello.ClientName = "viewer"
	}

	c := &client{id: uuid.NewString(), name: hello.ClientName, out: make(chan []byte, h.queueSize)}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	if err := writeJSON(conn, protocol.NewWelcome(c.id, h.params)); err != nil {
		h.unregister(c)
		return nil, false
	}
	return c, hello.WantSnapshot
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
}

func (h *Hub) cached() [][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	keys := make([]voxel.ChunkKey, 0, len(h.latest))
	for k := range h.latest {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		out = append(out, h.latest[k])
	}
	return out
}

func (h *Hub) handleMessage(ctx context.Context, c *client, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		h.reply(c, protocol.ErrProtoBadRequest, "invalid json")
		return
	}
	if base.ProtocolVersion != protocol.Version {
		h.reply(c, protocol.ErrProtoVersion, "want protocol_version "+protocol.Version)
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	switch base.Type {
	case protocol.TypeView:
		var v protocol.ViewMsg
		if err := json.Unmarshal(msg, &v); err != nil {
			h.reply(c, protocol.ErrBadRequest, "bad VIEW")
			return
		}
		center := voxel.ChunkKey{X: v.Center[0], Y: v.Center[1], Z: v.Center[2]}
		keys := lifecycle.VisibleAround(center, h.params.ViewRadius, h.params.VerticalRadius)
		if err := h.ctrl.SetVisible(reqCtx, keys); err != nil {
			h.reply(c, protocol.ErrInternal, err.Error())
		}
	case protocol.TypeEdit:
		var e protocol.EditMsg
		if err := json.Unmarshal(msg, &e); err != nil {
			h.reply(c, protocol.ErrBadRequest, "bad EDIT")
			return
		}
		if err := h.ctrl.SetVoxel(reqCtx, e.Pos[0], e.Pos[1], e.Pos[2], e.Voxel); err != nil {
			h.reply(c, protocol.ErrInternal, err.Error())
		}
	default:
		h.reply(c, protocol.ErrProtoUnsupported, "unsupported message type "+base.Type)
	}
}

func (h *Hub) reply(c *client, code, msg string) {
	b, _ := json.Marshal(protocol.NewError(code, msg))
	h.sendLatest(c.out, b)
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// IsLoopbackRemote reports whether an http.Request.RemoteAddr is a loopback
// address.
func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
