package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"HDProject/global"
	"HDProject/logger"
	mid "HDProject/middleware"
	"HDProject/module/helpdesk"
	"HDProject/module/notify"
	"HDProject/module/session"
	"HDProject/service/natsx"
	"HDProject/service/storage"
	pgstore "HDProject/service/storage/pg"
	redisstore "HDProject/service/storage/redis"
	"HDProject/service/ws"
	"HDProject/service/ws/handlers"
	sec "HDProject/tools/security"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := global.Load()
	global.ConfigIds()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ===== 存储初始化 =====
	if err := global.ConfigPostgres(); err != nil {
		logger.Errorf("[boot] postgres init failed: %v", err)
		os.Exit(1)
	}
	defer pgstore.ClosePostgres()

	var mirror ws.PresenceMirror
	var presenceStore *storage.PresenceStore
	if err := global.ConfigRedis(); err != nil {
		logger.Warnf("[boot] redis unavailable, presence mirror disabled: %v", err)
	} else {
		defer redisstore.CloseRedis()
		presenceStore = storage.NewPresenceStore(time.Duration(cfg.PresenceTTL) * time.Second)
		mirror = presenceStore
	}

	global.ConfigMgo(rootCtx)

	// ===== 网关核心 =====
	msgStore := storage.NewMessageStore()
	srv := ws.NewServer(ws.Deps{
		Store:    msgStore,
		Tickets:  storage.NewTicketDirectory(),
		Sessions: session.NewSink(),
		Mirror:   mirror,
		JWT:      sec.DefaultOptions(global.GetJwtSecret()),
	})
	handlers.RegisterAll(srv)

	// ===== 提醒总线（单节点部署可不配 NATS）=====
	var bus *notify.Bus
	if len(cfg.Nats.Servers) > 0 {
		client, err := natsx.NewClient(natsx.Config{Servers: cfg.Nats.Servers, Name: cfg.Nats.Name})
		if err != nil {
			logger.Warnf("[boot] nats unavailable, notify bus disabled: %v", err)
		} else {
			defer func() { _ = client.Close() }()
			bus = notify.NewBus(client)
			if err := notify.StartConsumer(client, srv); err != nil {
				logger.Warnf("[boot] notify consumer subscribe failed: %v", err)
			}
		}
	}

	// ===== HTTP + WebSocket =====
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ws/chat/:user_id", srv.HandleDirectWS)
	r.GET("/ws/ticket/:ticket_id", srv.HandleTicketWS)
	r.GET("/ws/signal/:peer_id", srv.HandleSignalWS)
	r.GET("/ws/status", srv.HandleStatusWS)

	api := &helpdesk.API{
		Store:    msgStore,
		Presence: presenceStore,
		Srv:      srv,
		Bus:      bus,
	}
	mid.GET(r, "/api/messages/ticket/:ticket_id", api.HandlerTicketHistory, mid.RouteOpt{IsAuth: true})
	mid.GET(r, "/api/messages/direct/:peer_id", api.HandlerDirectHistory, mid.RouteOpt{IsAuth: true})
	mid.POST(r, "/api/messages/read", api.HandlerMarkRead, mid.RouteOpt{IsAuth: true})
	mid.GET(r, "/api/presence/:user_id", api.HandlerPresence, mid.RouteOpt{IsAuth: true})
	mid.POST(r, "/api/notify", api.HandlerNotify, mid.RouteOpt{IsAuth: true})

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}
	go func() {
		logger.Infof("[HTTP] listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("[HTTP] server failed: %v", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-rootCtx.Done():
	}

	logger.Info("[boot] shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	srv.Close()
}
