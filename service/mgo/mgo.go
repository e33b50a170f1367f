package mgo

import (
	"context"
	"sync"
	"time"

	"HDProject/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type Config struct {
	URI      string
	Database string
}

type MongoManager struct {
	mu        sync.RWMutex
	db        *mongo.Database
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once
}

var globalMgr = MongoManager{readyCh: make(chan struct{})}

// StartAsync connects in the background with exponential backoff and keeps
// retrying until ctx is done. The audit sink tolerates mongo being away;
// first success closes Ready().
func StartAsync(ctx context.Context, cfg Config) {
	go func() {
		const (
			baseBackoff = 200 * time.Millisecond
			maxBackoff  = 5 * time.Second
		)
		attempt := 0
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			cli, err := mongo.Connect(cctx, options.Client().ApplyURI(cfg.URI))
			if err == nil {
				err = cli.Ping(cctx, readpref.Primary())
			}
			cancel()

			if err == nil {
				globalMgr.mu.Lock()
				globalMgr.db = cli.Database(cfg.Database)
				globalMgr.mu.Unlock()
				globalMgr.readyOnce.Do(func() { close(globalMgr.readyCh) })
				logger.Infof("[mgo] connected database=%s", cfg.Database)
				return
			}

			logger.Infof("[mgo] connect attempt=%d err=%v", attempt, err)
			backoff := baseBackoff << attempt
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if attempt < 6 {
				attempt++
			}
		}
	}()
}

// Ready 首次连接成功时 close；可 select 等待
func Ready() <-chan struct{} { return globalMgr.readyCh }

func GetDB() *mongo.Database {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	if globalMgr.db == nil {
		panic("Mongo not ready: wait Ready() or use TryGetDB()")
	}
	return globalMgr.db
}

func TryGetDB() (*mongo.Database, bool) {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	if globalMgr.db == nil {
		return nil, false
	}
	return globalMgr.db, true
}
