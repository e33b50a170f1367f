package pg

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	pgOnce sync.Once
	pool   *pgxpool.Pool
)

// InitPostgres 初始化 pgx 连接池（单例）
func InitPostgres(databaseURL string) error {
	var initErr error
	pgOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		p, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			initErr = err
			return
		}
		if err := p.Ping(ctx); err != nil {
			initErr = err
			return
		}
		pool = p
	})
	return initErr
}

// GetPool 获取连接池
func GetPool() *pgxpool.Pool {
	if pool == nil {
		panic("Postgres not initialized, call InitPostgres first")
	}
	return pool
}

// Ready reports whether InitPostgres succeeded.
func Ready() bool { return pool != nil }

// ClosePostgres 关闭连接池
func ClosePostgres() {
	if pool != nil {
		pool.Close()
	}
}
