package session

import (
	"time"

	"HDProject/data/database"
	"HDProject/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

// SessionLog 一条 websocket 会话的审计记录
type SessionLog struct {
	SessionID   string     `bson:"session_id" json:"session_id"` // 连接ID（雪花）
	UserID      string     `bson:"user_id" json:"user_id"`
	Channel     string     `bson:"channel" json:"channel"` // user/<id> ticket/<id> signal/<id> status
	IP          string     `bson:"ip,omitempty" json:"ip"`
	OpenedAt    time.Time  `bson:"opened_at" json:"opened_at"`
	ClosedAt    *time.Time `bson:"closed_at,omitempty" json:"closed_at"`
	CloseReason string     `bson:"close_reason,omitempty" json:"close_reason"`
}

var _ database.Table = (*SessionLog)(nil)

func (l *SessionLog) GetTableName() string {
	return "ws_session_log"
}

func (l *SessionLog) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(l.GetTableName())
}
