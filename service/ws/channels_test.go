package ws_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"HDProject/service/ws"
	"HDProject/service/ws/handlers"
	errs "HDProject/tools/errs"
	sec "HDProject/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var testJWT = sec.Options{Secret: []byte("integration-test-secret"), Alg: "HS256", TTL: time.Hour}

// memStore 内存版消息存储，可切换为故障模式
type memStore struct {
	mu    sync.Mutex
	saved int
	fail  bool
}

func (m *memStore) setFail(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = v
}

func (m *memStore) save() (ws.StoredMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return ws.StoredMessage{}, errs.ErrStorageFailure.WrapMsg("store down")
	}
	m.saved++
	return ws.StoredMessage{ID: int64(m.saved), Timestamp: time.Date(2026, 8, 1, 15, 4, 0, 0, time.UTC)}, nil
}

func (m *memStore) SaveDirect(_ context.Context, _, _, _ string) (ws.StoredMessage, error) {
	return m.save()
}

func (m *memStore) SaveTicket(_ context.Context, _, _, _ string) (ws.StoredMessage, error) {
	return m.save()
}

type memTickets struct {
	tickets map[string]ws.TicketInfo
	names   map[string]string
}

func (m *memTickets) LookupTicket(_ context.Context, ticketID string) (ws.TicketInfo, error) {
	t, ok := m.tickets[ticketID]
	if !ok {
		return ws.TicketInfo{}, errs.ErrRecordNotFound.Wrap()
	}
	return t, nil
}

func (m *memTickets) DisplayName(_ context.Context, userID string) (string, error) {
	return m.names[userID], nil
}

type gatewayFixture struct {
	srv   *ws.Server
	store *memStore
	http  *httptest.Server
}

func newGateway(t *testing.T) *gatewayFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := &memStore{}
	tickets := &memTickets{
		tickets: map[string]ws.TicketInfo{
			"t-1": {ID: "t-1", Title: "Printer broken", CreatorID: "carol", AssigneeID: "bob"},
		},
		names: map[string]string{"alice": "Alice Liu", "bob": "Bob Chen"},
	}

	srv := ws.NewServer(ws.Deps{Store: store, Tickets: tickets, JWT: testJWT})
	handlers.RegisterAll(srv)

	r := gin.New()
	r.GET("/ws/chat/:user_id", srv.HandleDirectWS)
	r.GET("/ws/ticket/:ticket_id", srv.HandleTicketWS)
	r.GET("/ws/signal/:peer_id", srv.HandleSignalWS)
	r.GET("/ws/status", srv.HandleStatusWS)

	hs := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		hs.Close()
	})
	return &gatewayFixture{srv: srv, store: store, http: hs}
}

func (g *gatewayFixture) dial(t *testing.T, userID, path string) *websocket.Conn {
	t.Helper()
	token, _, err := sec.Generate(testJWT, userID)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	url := "ws" + strings.TrimPrefix(g.http.URL, "http") + path + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitRegistered 等服务端读循环把连接登记进注册表
func (g *gatewayFixture) waitRegistered(t *testing.T, key ws.ChannelKey, userID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if g.srv.Registry().UserOnChannel(key, userID) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connection for %s never registered on %s/%s", userID, key.Kind, key.ID)
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

// expectSilence 在窗口期内不应收到任何帧；触发超时后连接不可再复用
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no frame, got %q", data)
	}
	if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

func TestAuthRejectClosesWithPolicyViolation(t *testing.T) {
	g := newGateway(t)

	url := "ws" + strings.TrimPrefix(g.http.URL, "http") + "/ws/chat/bob?token=garbage"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected close 1008, got %v", err)
	}
	if g.srv.Registry().Exists(ws.UserChannel("bob")) {
		t.Fatal("rejected connection must not touch the registry")
	}
}

func TestDirectChatDeliversToPeerOnly(t *testing.T) {
	g := newGateway(t)

	bob := g.dial(t, "bob", "/ws/chat/alice")
	g.waitRegistered(t, ws.UserChannel("bob"), "bob")
	alice := g.dial(t, "alice", "/ws/chat/bob")
	g.waitRegistered(t, ws.UserChannel("alice"), "alice")

	if err := alice.WriteMessage(websocket.TextMessage, []byte("hello bob")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := readText(t, bob); got != "alice: hello bob" {
		t.Fatalf("bob got %q", got)
	}
	// 不回显给发送者
	expectSilence(t, alice)
}

func TestDirectChatSkipsDeliveryWhenPersistFails(t *testing.T) {
	g := newGateway(t)

	bob := g.dial(t, "bob", "/ws/chat/alice")
	g.waitRegistered(t, ws.UserChannel("bob"), "bob")
	alice := g.dial(t, "alice", "/ws/chat/bob")
	g.waitRegistered(t, ws.UserChannel("alice"), "alice")

	g.store.setFail(true)
	if err := alice.WriteMessage(websocket.TextMessage, []byte("lost")); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectSilence(t, bob)
}

func TestTicketBroadcastAndCrossChannelNotify(t *testing.T) {
	g := newGateway(t)

	key := ws.TicketChannel("t-1")
	alice := g.dial(t, "alice", "/ws/ticket/t-1")
	g.waitRegistered(t, key, "alice")
	bob := g.dial(t, "bob", "/ws/ticket/t-1")
	g.waitRegistered(t, key, "bob")

	// creator 不在工单频道，只挂了个人频道
	carol := g.dial(t, "carol", "/ws/chat/anyone")
	g.waitRegistered(t, ws.UserChannel("carol"), "carol")

	if err := alice.WriteMessage(websocket.TextMessage, []byte("need help")); err != nil {
		t.Fatalf("write: %v", err)
	}

	want := "alice:need help|03:04 PM|Alice Liu"
	if got := readText(t, alice); got != want {
		t.Fatalf("sender should see the broadcast, got %q", got)
	}
	if got := readText(t, bob); got != want {
		t.Fatalf("bob got %q", got)
	}

	// assignee bob 在频道里收到了广播，补发只给 carol
	if got := readText(t, carol); got != "NOTIFY:ticket:t-1:Printer broken:need help" {
		t.Fatalf("carol got %q", got)
	}
}

func TestTicketCallControlFrameNotPersisted(t *testing.T) {
	g := newGateway(t)

	key := ws.TicketChannel("t-1")
	alice := g.dial(t, "alice", "/ws/ticket/t-1")
	g.waitRegistered(t, key, "alice")
	bob := g.dial(t, "bob", "/ws/ticket/t-1")
	g.waitRegistered(t, key, "bob")

	if err := alice.WriteMessage(websocket.TextMessage, []byte(`{"kind":"call.invite"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	var env ws.ControlEnvelope
	if err := json.Unmarshal([]byte(readText(t, bob)), &env); err != nil {
		t.Fatalf("bob should receive the relayed envelope: %v", err)
	}
	if env.Kind != ws.KindCallInvite {
		t.Fatalf("kind = %q", env.Kind)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		tc, ok := g.srv.Calls().TicketSnapshot("t-1")
		if ok && tc.Phase == ws.CallRinging {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("call state never reached ringing: %+v ok=%v", tc, ok)
		}
		time.Sleep(5 * time.Millisecond)
	}

	g.store.mu.Lock()
	saved := g.store.saved
	g.store.mu.Unlock()
	if saved != 0 {
		t.Fatalf("control frames must not be persisted, saved=%d", saved)
	}
}

func waitUserCallGone(t *testing.T, g *gatewayFixture, userID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := g.srv.Calls().UserSnapshot(userID); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	uc, _ := g.srv.Calls().UserSnapshot(userID)
	t.Fatalf("user call state for %s should be cleared, still %+v", userID, uc)
}

func TestDirectDisconnectClearsUserCallState(t *testing.T) {
	g := newGateway(t)

	bob := g.dial(t, "bob", "/ws/chat/alice")
	g.waitRegistered(t, ws.UserChannel("bob"), "bob")
	alice := g.dial(t, "alice", "/ws/chat/bob")
	g.waitRegistered(t, ws.UserChannel("alice"), "alice")

	if err := alice.WriteMessage(websocket.TextMessage, []byte(`{"kind":"call.invite"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	readText(t, bob) // 信令转发帧

	deadline := time.Now().Add(2 * time.Second)
	for {
		uc, ok := g.srv.Calls().UserSnapshot("alice")
		if ok && uc.Phase == ws.CallRinging {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("call state never reached ringing: %+v ok=%v", uc, ok)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// 主叫断开，未接起的呼叫不能留在 ringing
	_ = alice.Close()
	waitUserCallGone(t, g, "alice")
	waitUserCallGone(t, g, "bob")
}

func TestDirectDisconnectKeepsCallWhileOtherDeviceLive(t *testing.T) {
	g := newGateway(t)

	bob := g.dial(t, "bob", "/ws/chat/alice")
	_ = bob
	g.waitRegistered(t, ws.UserChannel("bob"), "bob")
	alice1 := g.dial(t, "alice", "/ws/chat/bob")
	g.waitRegistered(t, ws.UserChannel("alice"), "alice")
	alice2 := g.dial(t, "alice", "/ws/chat/bob")
	deadline := time.Now().Add(2 * time.Second)
	for g.srv.Registry().Count(ws.UserChannel("alice")) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("second alice connection never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := alice1.WriteMessage(websocket.TextMessage, []byte(`{"kind":"call.invite"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	for {
		if uc, ok := g.srv.Calls().UserSnapshot("alice"); ok && uc.Phase == ws.CallRinging {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("call state never reached ringing")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// 一台设备掉线，另一台还在，呼叫保留
	_ = alice1.Close()
	for g.srv.Registry().Count(ws.UserChannel("alice")) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("closed connection never unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if uc, ok := g.srv.Calls().UserSnapshot("alice"); !ok || uc.Phase != ws.CallRinging {
		t.Fatalf("call must survive while another device is live, got %+v ok=%v", uc, ok)
	}

	// 最后一台也断开才清理
	_ = alice2.Close()
	waitUserCallGone(t, g, "alice")
	waitUserCallGone(t, g, "bob")
}

func TestSignalRelayIsOpaque(t *testing.T) {
	g := newGateway(t)

	bob := g.dial(t, "bob", "/ws/signal/alice")
	g.waitRegistered(t, ws.SignalChannel("bob"), "bob")
	alice := g.dial(t, "alice", "/ws/signal/bob")
	g.waitRegistered(t, ws.SignalChannel("alice"), "alice")

	// 二进制帧不接：发送队列按文本帧写出，转发会破坏封帧
	if err := alice.WriteMessage(websocket.BinaryMessage, []byte{0xff, 0x00, 0xfe}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	// 不是合法 JSON 也照转
	if err := alice.WriteMessage(websocket.TextMessage, []byte("sdp-offer-blob")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// 二进制帧被丢弃，bob 收到的第一帧就是后发的文本帧
	if got := readText(t, bob); got != "sdp-offer-blob" {
		t.Fatalf("bob got %q", got)
	}
}

func TestSignalRelayToAbsentPeerIsDropped(t *testing.T) {
	g := newGateway(t)

	alice := g.dial(t, "alice", "/ws/signal/nobody")
	g.waitRegistered(t, ws.SignalChannel("alice"), "alice")

	if err := alice.WriteMessage(websocket.TextMessage, []byte("offer")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// 对端不在线时静默丢弃，连接保持可用
	if err := alice.WriteMessage(websocket.TextMessage, []byte("offer-again")); err != nil {
		t.Fatalf("connection should survive a dropped relay: %v", err)
	}
}

func TestStatusChannelSnapshotAndBroadcast(t *testing.T) {
	g := newGateway(t)

	alice := g.dial(t, "alice", "/ws/status")
	g.waitRegistered(t, ws.StatusChannel("alice"), "alice")

	var ev ws.StatusEvent
	if err := json.Unmarshal([]byte(readText(t, alice)), &ev); err != nil {
		t.Fatalf("snapshot frame: %v", err)
	}
	if ev.UserID != "alice" || ev.Status != "online" {
		t.Fatalf("snapshot = %+v", ev)
	}

	bob := g.dial(t, "bob", "/ws/status")
	g.waitRegistered(t, ws.StatusChannel("bob"), "bob")

	if err := json.Unmarshal([]byte(readText(t, alice)), &ev); err != nil {
		t.Fatalf("broadcast frame: %v", err)
	}
	if ev.UserID != "bob" || ev.Status != "online" {
		t.Fatalf("broadcast = %+v", ev)
	}

	// bob 发任意状态载荷，alice 收到带 user_id 的转发
	if err := bob.WriteMessage(websocket.TextMessage, []byte(`{"typing":true}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(readText(t, alice)), &fields); err != nil {
		t.Fatalf("relay frame: %v", err)
	}
	if fields["user_id"] != "bob" || fields["typing"] != true {
		t.Fatalf("relay = %v", fields)
	}

	// bob 断开，alice 收到 offline
	_ = bob.Close()
	if err := json.Unmarshal([]byte(readText(t, alice)), &ev); err != nil {
		t.Fatalf("offline frame: %v", err)
	}
	if ev.UserID != "bob" || ev.Status != "offline" {
		t.Fatalf("offline = %+v", ev)
	}
}
