package ws

import (
	"context"
	"encoding/json"
	"sync"

	"HDProject/logger"
	safe "HDProject/tools/safe"
)

// PresenceMirror mirrors online/offline transitions into an external store
// (redis TTL keys) so HTTP-side code can answer "who is online" without
// touching the tracker. Best-effort; a nil mirror disables mirroring.
type PresenceMirror interface {
	Online(ctx context.Context, userID string) error
	Offline(ctx context.Context, userID string) error
}

// StatusEvent is the wire shape of every status-channel frame.
type StatusEvent struct {
	UserID string `json:"user_id"`
	Status string `json:"status"` // online / offline
}

// Presence tracks which users are online, derived from status-channel
// connection counts: offline -> online on the first status connection,
// online -> offline when the last one goes away.
type Presence struct {
	mu     sync.Mutex
	reg    *Registry
	fan    *Fanout
	online map[string]int // userID -> status 连接数
	mirror PresenceMirror
}

func NewPresence(reg *Registry, fan *Fanout, mirror PresenceMirror) *Presence {
	return &Presence{
		reg:    reg,
		fan:    fan,
		online: make(map[string]int),
		mirror: mirror,
	}
}

// Join registers a status connection. The snapshot-then-broadcast sequence
// runs under the tracker's lock so no other event for the same user can
// interleave; enqueues are non-blocking, so holding the lock never waits on
// a slow peer.
func (p *Presence) Join(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.reg.Register(StatusChannel(c.UserID), c)
	p.online[c.UserID]++

	// 先把当前在线全量发给新连接（含自己，按用户去重）
	for userID := range p.online {
		b, _ := json.Marshal(StatusEvent{UserID: userID, Status: "online"})
		c.enqueue(b)
	}

	// 只有 offline -> online 的跃迁才广播，一个用户的第二台设备不重复广播
	if p.online[c.UserID] == 1 {
		b, _ := json.Marshal(StatusEvent{UserID: c.UserID, Status: "online"})
		p.fan.DeliverExcept(p.reg.SnapshotKind(KindStatus), c.UserID, b)
		p.mirrorOnline(c.UserID)
	}
}

// Leave removes a status connection; the last one flips the user offline
// and broadcasts the leave to everyone still connected.
func (p *Presence) Leave(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.reg.Unregister(StatusChannel(c.UserID), c)
	if p.online[c.UserID] == 0 {
		return // 重复 Leave：断开路径与清理竞争，幂等处理
	}
	p.online[c.UserID]--
	if p.online[c.UserID] > 0 {
		return
	}
	delete(p.online, c.UserID)

	b, _ := json.Marshal(StatusEvent{UserID: c.UserID, Status: "offline"})
	p.fan.DeliverExcept(p.reg.SnapshotKind(KindStatus), c.UserID, b)
	p.mirrorOffline(c.UserID)
}

// Relay rebroadcasts an arbitrary status payload from one user to every
// other status connection, tagged with the sender's id. The channel is a
// generic presence/status bus, not limited to online/offline.
func (p *Presence) Relay(fromUserID string, fields map[string]any) {
	merged := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["user_id"] = fromUserID

	b, err := json.Marshal(merged)
	if err != nil {
		logger.Infof("[presence] relay marshal err user=%s err=%v", fromUserID, err)
		return
	}

	p.mu.Lock()
	conns := p.reg.SnapshotKind(KindStatus)
	p.mu.Unlock()
	p.fan.DeliverExcept(conns, fromUserID, b)
}

// IsOnline reports whether the user has at least one status connection.
func (p *Presence) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID] > 0
}

// OnlineUsers returns the current online set.
func (p *Presence) OnlineUsers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.online))
	for userID := range p.online {
		out = append(out, userID)
	}
	return out
}

// 镜像写走独立协程，避免持锁期间等 redis
func (p *Presence) mirrorOnline(userID string) {
	if p.mirror == nil {
		return
	}
	safe.SafeGo(func() {
		if err := p.mirror.Online(context.Background(), userID); err != nil {
			logger.Infof("[presence] mirror online err user=%s err=%v", userID, err)
		}
	})
}

func (p *Presence) mirrorOffline(userID string) {
	if p.mirror == nil {
		return
	}
	safe.SafeGo(func() {
		if err := p.mirror.Offline(context.Background(), userID); err != nil {
			logger.Infof("[presence] mirror offline err user=%s err=%v", userID, err)
		}
	})
}
