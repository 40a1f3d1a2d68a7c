package router

import (
	"context"

	"chat_sync_service/internal/chat/app"
	"chat_sync_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes 註冊 chat service 路由
func RegisterRoutes(r *fiber.App, chatWebsocket *app.ChatWebsocketHandler, syncUC *app.SyncUseCase, wsCfg websocket.Config) {
	r.Get("/", ConnectCheck(syncUC))
	r.Post("/debug", DebugLogFlag)

	// token 驗證在 upgrade 之前完成
	r.Use("/ws", middlewares.TokenRequired(), chatWebsocket.Handshake)
	r.Get("/ws", websocket.New(func(c *websocket.Conn) {
		chatWebsocket.HandleConnection(context.Background(), c)
	}, wsCfg))
}
