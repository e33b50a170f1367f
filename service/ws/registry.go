package ws

import (
	"sync"
)

// ChannelKind 频道类型
type ChannelKind int8

const (
	KindUser   ChannelKind = iota // 个人频道（私聊投递 + 跨频道通知）
	KindTicket                    // 工单频道（群发）
	KindSignal                    // 呼叫信令频道
	KindStatus                    // 在线状态频道
)

func (k ChannelKind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindTicket:
		return "ticket"
	case KindSignal:
		return "signal"
	case KindStatus:
		return "status"
	default:
		return "unknown"
	}
}

// ChannelKey identifies one fan-out target set.
type ChannelKey struct {
	Kind ChannelKind
	ID   string
}

func UserChannel(userID string) ChannelKey     { return ChannelKey{Kind: KindUser, ID: userID} }
func TicketChannel(ticketID string) ChannelKey { return ChannelKey{Kind: KindTicket, ID: ticketID} }
func SignalChannel(userID string) ChannelKey   { return ChannelKey{Kind: KindSignal, ID: userID} }
func StatusChannel(userID string) ChannelKey   { return ChannelKey{Kind: KindStatus, ID: userID} }

// Registry maps a channel key to its live connections.
//
// An entry is deleted the moment its connection set becomes empty: presence
// and notify logic test channel existence, not set size, so an empty
// placeholder entry would read as "someone is listening".
type Registry struct {
	mu       sync.RWMutex
	channels map[ChannelKey][]*Client // 保持加入顺序
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[ChannelKey][]*Client)}
}

// Register adds c to the entry for key, creating the entry if absent.
// The same connection may be registered under any number of channels.
func (r *Registry) Register(key ChannelKey, c *Client) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.channels[key] {
		if x == c {
			return // 幂等：重复注册忽略
		}
	}
	r.channels[key] = append(r.channels[key], c)
}

// Unregister removes c from the entry for key. Removing a connection that is
// not present is a no-op: disconnect paths race with sweep-style cleanup.
func (r *Registry) Unregister(key ChannelKey, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := r.channels[key]
	for i, x := range conns {
		if x == c {
			conns = append(conns[:i], conns[i+1:]...)
			if len(conns) == 0 {
				delete(r.channels, key)
			} else {
				r.channels[key] = conns
			}
			return
		}
	}
}

// Snapshot returns a copy of the entry for key, safe to iterate while other
// goroutines register and unregister.
func (r *Registry) Snapshot(key ChannelKey) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.channels[key]
	if len(conns) == 0 {
		return nil
	}
	out := make([]*Client, len(conns))
	copy(out, conns)
	return out
}

// SnapshotKind lists every connection across all channels of one kind.
// 遍历所有频道，只给状态广播用
func (r *Registry) SnapshotKind(kind ChannelKind) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Client
	for key, conns := range r.channels {
		if key.Kind != kind {
			continue
		}
		out = append(out, conns...)
	}
	return out
}

// Exists reports whether the channel currently has any connection.
func (r *Registry) Exists(key ChannelKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[key]
	return ok
}

// UserOnChannel reports whether some connection of userID is registered
// under key.
func (r *Registry) UserOnChannel(key ChannelKey, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.channels[key] {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// Count returns the number of connections registered under key.
func (r *Registry) Count(key ChannelKey) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[key])
}
