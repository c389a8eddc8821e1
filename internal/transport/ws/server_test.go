package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxelmesh.ai/internal/protocol"
	"voxelmesh.ai/internal/sim/lifecycle"
	"voxelmesh.ai/internal/sim/mesh"
	"voxelmesh.ai/internal/sim/voxel"
)

type edit struct {
	x, y, z int
	t       uint16
}

type fakeController struct {
	views chan []voxel.ChunkKey
	edits chan edit
}

func (f *fakeController) SetVisible(ctx context.Context, keys []voxel.ChunkKey) error {
	f.views <- keys
	return nil
}

func (f *fakeController) SetVoxel(ctx context.Context, x, y, z int, t uint16) error {
	f.edits <- edit{x, y, z, t}
	return nil
}

func dial(t *testing.T, srv *httptest.Server, hello string) (*websocket.Conn, protocol.WelcomeMsg) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := conn.WriteMessage(websocket.TextMessage, []byte(hello)); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	var w protocol.WelcomeMsg
	readInto(t, conn, &w)
	return conn, w
}

func readInto(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.Stats().Clients != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients: got %d want %d", h.Stats().Clients, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func sampleMesh(t *testing.T, key voxel.ChunkKey) lifecycle.ChunkMesh {
	t.Helper()
	f, _ := voxel.New(4)
	f.Set(0, 0, 0, 2)
	md, err := mesh.Build(f)
	if err != nil {
		t.Fatalf("mesh.Build: %v", err)
	}
	return lifecycle.ChunkMesh{Key: key, Version: 1, VoxelCount: 1, Digest: "d", Mesh: md}
}

const hello = `{"type":"HELLO","protocol_version":"1.0","client_name":"t"}`

func TestHub_StreamsMeshesAndEvictions(t *testing.T) {
	ctrl := &fakeController{views: make(chan []voxel.ChunkKey, 1), edits: make(chan edit, 1)}
	h := NewHub(ctrl, protocol.MeshParams{ChunkSize: 4, ViewRadius: 1}, nil)
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	conn, welcome := dial(t, srv, hello)
	if welcome.Type != protocol.TypeWelcome || welcome.SessionID == "" || welcome.Params.ChunkSize != 4 {
		t.Fatalf("welcome: %+v", welcome)
	}
	if welcome.InfoLayout != protocol.CurrentInfoLayout() {
		t.Fatalf("info layout: %+v", welcome.InfoLayout)
	}
	waitClients(t, h, 1)

	key := voxel.ChunkKey{X: 1, Y: 0, Z: -1}
	h.OnMesh(sampleMesh(t, key))
	var m protocol.MeshMsg
	readInto(t, conn, &m)
	if m.Type != protocol.TypeMesh || m.Chunk != "1,0,-1" || len(m.Indices) != 36 || len(m.VoxelInfo) != 48 {
		t.Fatalf("mesh: type=%s chunk=%s indices=%d info=%d", m.Type, m.Chunk, len(m.Indices), len(m.VoxelInfo))
	}

	h.Evict(key)
	var e protocol.EvictMsg
	readInto(t, conn, &e)
	if e.Type != protocol.TypeEvict || e.Chunk != "1,0,-1" {
		t.Fatalf("evict: %+v", e)
	}
	if h.Stats().Cached != 0 {
		t.Fatalf("cache not cleared after evict")
	}
}

func TestHub_ClientRequests(t *testing.T) {
	ctrl := &fakeController{views: make(chan []voxel.ChunkKey, 1), edits: make(chan edit, 1)}
	h := NewHub(ctrl, protocol.MeshParams{ChunkSize: 4, ViewRadius: 1, VerticalRadius: 0}, nil)
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()
	conn, _ := dial(t, srv, hello)

	send := func(s string) {
		t.Helper()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(s)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send(`{"type":"VIEW","protocol_version":"1.0","center":[2,0,2]}`)
	select {
	case keys := <-ctrl.views:
		if len(keys) != 5 || keys[0] != (voxel.ChunkKey{X: 2, Z: 2}) {
			t.Fatalf("view keys: %v", keys)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no SetVisible call")
	}

	send(`{"type":"EDIT","protocol_version":"1.0","pos":[-5,3,9],"voxel":4}`)
	select {
	case e := <-ctrl.edits:
		if e != (edit{-5, 3, 9, 4}) {
			t.Fatalf("edit: %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no SetVoxel call")
	}

	cases := map[string]string{
		`not json`: protocol.ErrProtoBadRequest,
		`{"type":"VIEW","protocol_version":"0.1","center":[0,0,0]}`: protocol.ErrProtoVersion,
		`{"type":"DANCE","protocol_version":"1.0"}`:                 protocol.ErrProtoUnsupported,
		`{"type":"EDIT","protocol_version":"1.0","pos":"x"}`:        protocol.ErrBadRequest,
	}
	for in, code := range cases {
		send(in)
		var em protocol.ErrorMsg
		readInto(t, conn, &em)
		if em.Type != protocol.TypeError || em.Code != code {
			t.Fatalf("%s: got %+v want code %s", in, em, code)
		}
	}
}

func TestHub_SnapshotForLateJoiner(t *testing.T) {
	h := NewHub(&fakeController{}, protocol.MeshParams{ChunkSize: 4}, nil)
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	h.OnMesh(sampleMesh(t, voxel.ChunkKey{X: 2}))
	h.OnMesh(sampleMesh(t, voxel.ChunkKey{X: -2}))

	conn, _ := dial(t, srv, `{"type":"HELLO","protocol_version":"1.0","want_snapshot":true}`)
	var a, b protocol.MeshMsg
	readInto(t, conn, &a)
	readInto(t, conn, &b)
	if a.Chunk != "-2,0,0" || b.Chunk != "2,0,0" {
		t.Fatalf("snapshot order: %s %s", a.Chunk, b.Chunk)
	}
}

func TestHub_RejectsBadHello(t *testing.T) {
	h := NewHub(&fakeController{}, protocol.MeshParams{}, nil)
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"HELLO","protocol_version":"0.0"}`))
	var em protocol.ErrorMsg
	readInto(t, conn, &em)
	if em.Code != protocol.ErrProtoVersion {
		t.Fatalf("got %+v want %s", em, protocol.ErrProtoVersion)
	}
	if h.Stats().Clients != 0 {
		t.Fatalf("rejected client registered")
	}
}

func TestSendLatestDropsOldest(t *testing.T) {
	h := NewHub(&fakeController{}, protocol.MeshParams{}, nil)
	ch := make(chan []byte, 2)
	h.sendLatest(ch, []byte("a"))
	h.sendLatest(ch, []byte("b"))
	h.sendLatest(ch, []byte("c"))
	if got := string(<-ch) + string(<-ch); got != "bc" {
		t.Fatalf("got %q want bc", got)
	}
	if s := h.Stats(); s.Dropped != 1 || s.Sent != 3 {
		t.Fatalf("stats: %+v", s)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5555": true,
		"[::1]:80":       true,
		"10.0.0.2:80":    false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := IsLoopbackRemote(in); got != want {
			t.Fatalf("%s: got %v want %v", in, got, want)
		}
	}
}
