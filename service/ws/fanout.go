package ws

import (
	errs "HDProject/tools/errs"

	"HDProject/logger"
)

// SendOutcome records the result of one per-connection send attempt.
// 仅内部观测用，不向调用方冒泡。
type SendOutcome struct {
	ConnID string
	Err    error
}

// Fanout delivers one payload to every live connection on a channel.
//
// The contract is best-effort and partial-failure tolerant: a dead or slow
// peer is dropped and never aborts delivery to the rest, and Deliver never
// returns an error. An unknown channel resolves to "deliver to nobody".
type Fanout struct {
	reg *Registry
}

func NewFanout(reg *Registry) *Fanout {
	return &Fanout{reg: reg}
}

// Deliver sends payload to the channel's current snapshot.
// Returns the number of connections actually enqueued.
func (f *Fanout) Deliver(key ChannelKey, payload []byte) int {
	if len(payload) == 0 {
		return 0
	}
	outcomes := f.deliver(f.reg.Snapshot(key), payload)
	n := 0
	for _, o := range outcomes {
		if o.Err == nil {
			n++
			continue
		}
		logger.Debugf("[fanout] skip conn=%s channel=%s/%s err=%v", o.ConnID, key.Kind, key.ID, o.Err)
	}
	return n
}

// DeliverExcept is Deliver minus every connection owned by skipUserID.
// 状态广播要排除发送者本人的所有连接。
func (f *Fanout) DeliverExcept(conns []*Client, skipUserID string, payload []byte) int {
	filtered := conns[:0:0]
	for _, c := range conns {
		if c.UserID == skipUserID {
			continue
		}
		filtered = append(filtered, c)
	}
	outcomes := f.deliver(filtered, payload)
	n := 0
	for _, o := range outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

func (f *Fanout) deliver(conns []*Client, payload []byte) []SendOutcome {
	if len(conns) == 0 {
		return nil
	}
	out := make([]SendOutcome, 0, len(conns))
	for _, c := range conns {
		if c.enqueue(payload) {
			out = append(out, SendOutcome{ConnID: c.ConnID})
		} else {
			// 队列满视为慢消费者，直接掐掉连接；读循环的清理路径会把它从
			// 所有频道注销
			c.Stop()
			out = append(out, SendOutcome{ConnID: c.ConnID, Err: errs.ErrTransportFailure.WithDetail("send queue full")})
		}
	}
	return out
}
