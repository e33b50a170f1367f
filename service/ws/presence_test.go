package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func newPresence(mirror PresenceMirror) (*Presence, *Registry) {
	reg := NewRegistry()
	return NewPresence(reg, NewFanout(reg), mirror), reg
}

func decodeStatus(t *testing.T, raw string) StatusEvent {
	t.Helper()
	var ev StatusEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("bad status frame %q: %v", raw, err)
	}
	return ev
}

func TestPresenceJoinSendsSnapshotAndBroadcastsOnline(t *testing.T) {
	p, _ := newPresence(nil)

	a := newTestClient("alice")
	p.Join(a)

	// 新连接先收到全量快照（此时只有自己）
	msgs := drain(a)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 snapshot frame, got %v", msgs)
	}
	if ev := decodeStatus(t, msgs[0]); ev.UserID != "alice" || ev.Status != "online" {
		t.Fatalf("unexpected snapshot frame: %+v", ev)
	}

	b := newTestClient("bob")
	p.Join(b)

	// bob 入场：alice 收到 bob online 的广播
	msgs = drain(a)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 broadcast to alice, got %v", msgs)
	}
	if ev := decodeStatus(t, msgs[0]); ev.UserID != "bob" || ev.Status != "online" {
		t.Fatalf("unexpected broadcast: %+v", ev)
	}

	// bob 自己收到的快照里 alice、bob 都在线
	snap := drain(b)
	if len(snap) != 2 {
		t.Fatalf("expected 2 snapshot frames for bob, got %v", snap)
	}
}

func TestPresenceSecondDeviceDoesNotRebroadcast(t *testing.T) {
	p, _ := newPresence(nil)

	a1 := newTestClient("alice")
	b := newTestClient("bob")
	p.Join(a1)
	p.Join(b)
	drain(a1)
	drain(b)

	a2 := newTestClient("alice")
	p.Join(a2)

	if msgs := drain(b); len(msgs) != 0 {
		t.Fatalf("second device must not rebroadcast online, bob got %v", msgs)
	}
	if !p.IsOnline("alice") {
		t.Fatal("alice should be online")
	}
}

func TestPresenceLeaveBroadcastsOfflineOnlyOnLastDevice(t *testing.T) {
	p, _ := newPresence(nil)

	a1 := newTestClient("alice")
	a2 := newTestClient("alice")
	b := newTestClient("bob")
	p.Join(a1)
	p.Join(a2)
	p.Join(b)
	drain(a1)
	drain(a2)
	drain(b)

	p.Leave(a1)
	if msgs := drain(b); len(msgs) != 0 {
		t.Fatalf("non-last leave must not broadcast, bob got %v", msgs)
	}
	if !p.IsOnline("alice") {
		t.Fatal("alice still has one device connected")
	}

	p.Leave(a2)
	msgs := drain(b)
	if len(msgs) != 1 {
		t.Fatalf("expected offline broadcast, bob got %v", msgs)
	}
	if ev := decodeStatus(t, msgs[0]); ev.UserID != "alice" || ev.Status != "offline" {
		t.Fatalf("unexpected offline frame: %+v", ev)
	}
	if p.IsOnline("alice") {
		t.Fatal("alice should be offline after last leave")
	}
}

func TestPresenceDoubleLeaveIsIdempotent(t *testing.T) {
	p, _ := newPresence(nil)
	a := newTestClient("alice")
	b := newTestClient("bob")
	p.Join(a)
	p.Join(b)
	drain(b)

	p.Leave(a)
	p.Leave(a)

	if msgs := drain(b); len(msgs) != 1 {
		t.Fatalf("duplicate leave must not rebroadcast, bob got %v", msgs)
	}
}

func TestPresenceRelayTagsSenderAndExcludesSender(t *testing.T) {
	p, _ := newPresence(nil)
	a := newTestClient("alice")
	b := newTestClient("bob")
	p.Join(a)
	p.Join(b)
	drain(a)
	drain(b)

	p.Relay("alice", map[string]any{"typing": true})

	if msgs := drain(a); len(msgs) != 0 {
		t.Fatalf("sender must not receive its own relay, got %v", msgs)
	}
	msgs := drain(b)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 relayed frame, got %v", msgs)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(msgs[0]), &fields); err != nil {
		t.Fatalf("bad relay frame: %v", err)
	}
	if fields["user_id"] != "alice" {
		t.Fatalf("relay must carry sender id, got %v", fields)
	}
	if fields["typing"] != true {
		t.Fatalf("relay must keep original fields, got %v", fields)
	}
}

type chanMirror struct {
	events chan string
}

func (m *chanMirror) Online(_ context.Context, userID string) error {
	m.events <- "online:" + userID
	return nil
}

func (m *chanMirror) Offline(_ context.Context, userID string) error {
	m.events <- "offline:" + userID
	return nil
}

func waitEvent(t *testing.T, ch chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("expected mirror event %q, got %q", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for mirror event %q", want)
	}
}

func TestPresenceMirrorSeesTransitionsOnly(t *testing.T) {
	mirror := &chanMirror{events: make(chan string, 8)}
	p, _ := newPresence(mirror)

	a1 := newTestClient("alice")
	a2 := newTestClient("alice")
	p.Join(a1)
	waitEvent(t, mirror.events, "online:alice")

	p.Join(a2) // 第二台设备不触发镜像
	p.Leave(a1)

	p.Leave(a2)
	waitEvent(t, mirror.events, "offline:alice")

	select {
	case extra := <-mirror.events:
		t.Fatalf("unexpected extra mirror event %q", extra)
	case <-time.After(100 * time.Millisecond):
	}
}
