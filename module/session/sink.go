package session

import (
	"context"
	"time"

	"HDProject/logger"
	"HDProject/service/mgo"
	"HDProject/service/ws"
	safe "HDProject/tools/safe"

	"go.mongodb.org/mongo-driver/bson"
)

// Sink writes session audit records to mongo. Every write is best-effort
// on its own goroutine: mongo being away never touches the frame path.
type Sink struct{}

func NewSink() *Sink { return &Sink{} }

var _ ws.SessionSink = (*Sink)(nil)

func (s *Sink) SessionOpened(_ context.Context, rec ws.SessionRecord) {
	safe.SafeGo(func() {
		db, ok := mgo.TryGetDB()
		if !ok {
			return
		}
		doc := &SessionLog{
			SessionID: rec.SessionID,
			UserID:    rec.UserID,
			Channel:   rec.Channel,
			IP:        rec.RemoteIP,
			OpenedAt:  rec.OpenedAt,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if _, err := db.Collection(doc.GetTableName()).InsertOne(ctx, doc); err != nil {
			logger.Infof("[session] audit insert err session=%s err=%v", rec.SessionID, err)
		}
	})
}

func (s *Sink) SessionClosed(_ context.Context, sessionID, reason string, closedAt time.Time) {
	safe.SafeGo(func() {
		db, ok := mgo.TryGetDB()
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, err := db.Collection((&SessionLog{}).GetTableName()).UpdateOne(ctx,
			bson.M{"session_id": sessionID},
			bson.M{"$set": bson.M{"closed_at": closedAt, "close_reason": reason}},
		)
		if err != nil {
			logger.Infof("[session] audit close err session=%s err=%v", sessionID, err)
		}
	})
}
