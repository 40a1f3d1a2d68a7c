package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/logger"
	"chat_sync_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// LocalIdentity fiber Locals key of the verified identity
const LocalIdentity = "identity"

// HandlerOptions websocket connection limits
type HandlerOptions struct {
	PingInterval time.Duration
	ReadLimit    int64
}

// ChatWebsocketHandler websocket transport of the sync use case
type ChatWebsocketHandler struct {
	syncUC *SyncUseCase
	opts   HandlerOptions
}

// NewChatWebsocketHandler create ChatWebsocketHandler
func NewChatWebsocketHandler(syncUC *SyncUseCase, opts HandlerOptions) *ChatWebsocketHandler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 10 * time.Minute
	}
	return &ChatWebsocketHandler{syncUC: syncUC, opts: opts}
}

// Handshake 在 upgrade 之前驗證 token，失敗直接回 401 且不註冊任何 channel
func (h *ChatWebsocketHandler) Handshake(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	raw, _ := c.Locals(middlewares.TokenRaw).(string)
	identity, err := h.syncUC.Authenticate(c.UserContext(), raw)
	if err != nil {
		logger.Log.Warn("websocket handshake refused", zap.String("ip", c.IP()), zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": domain.ClientError(err)})
	}
	c.Locals(LocalIdentity, identity)
	return c.Next()
}

// wsSender writes frames to the websocket, only the channel writer calls it
type wsSender struct {
	conn *websocket.Conn
}

func (s *wsSender) Send(ctx context.Context, frame []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		if err := s.conn.SetWriteDeadline(dl); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// HandleConnection 是 WebSocket 連線的進入點
func (h *ChatWebsocketHandler) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	identity, ok := conn.Locals(LocalIdentity).(domain.Identity)
	if !ok {
		logger.Log.Error("websocket without identity")
		closeWebSocketConnection(conn, websocket.ClosePolicyViolation, "unauthorized")
		return
	}
	if h.opts.ReadLimit > 0 {
		conn.SetReadLimit(h.opts.ReadLimit)
	}

	ch, err := h.syncUC.Connect(identity, &wsSender{conn: conn})
	if err != nil {
		logger.Log.Error("websocket register failed", zap.String("userID", identity.ID), zap.Error(err))
		closeWebSocketConnection(conn, websocket.CloseTryAgainLater, "server closing")
		return
	}

	ticker := time.NewTicker(h.opts.PingInterval)
	ctxClose, cancel := context.WithCancel(ctx)

	defer func() {
		ticker.Stop()
		cancel()
		h.syncUC.Disconnect(ch)
		// writer 結束前不能讓 fiber 回收 conn
		<-ch.Done()
		logger.Log.Info("websocket close", zap.String("userID", identity.ID), zap.String("channelID", ch.ID()))
	}()

	//server發出ping之後client連線正常會回pong
	conn.SetPongHandler(func(appData string) error {
		logger.Log.Debug("received pong", zap.String("channelID", ch.ID()))
		return nil
	})

	// 定期發送 Ping, WriteControl 可與 writer 並行
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(time.Second)); err != nil {
					logger.Log.Warn("ping error", zap.String("channelID", ch.ID()), zap.Error(err))
					return
				}
			case <-ctxClose.Done():
				return
			}
		}
	}()

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Log.Info("connection closed", zap.String("channelID", ch.ID()))
			} else {
				//直接斷線 1006
				logger.Log.Warn("websocket read error", zap.String("channelID", ch.ID()), zap.Error(err))
			}
			return
		}
		h.execWebsocketAction(ctxClose, ch, mt, message)
	}
}

func (h *ChatWebsocketHandler) execWebsocketAction(ctx context.Context, ch *Channel, mt int, msg []byte) {
	switch mt {
	case websocket.TextMessage:
		h.textMessageAction(ctx, ch, msg)
	default:
		h.sendError(ch, "unsupported message type")
	}
}

func (h *ChatWebsocketHandler) textMessageAction(ctx context.Context, ch *Channel, msg []byte) {
	var req domain.WSRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		h.sendError(ch, "invalid json")
		return
	}

	resp := domain.WSResponse{Action: req.Action, Payload: map[string]interface{}{}}
	var err error
	switch domain.Action(req.Action) {
	case domain.JoinRoom:
		err = h.syncUC.JoinRoom(ctx, ch, req.ConversationID)
		resp.Payload["conversation_id"] = req.ConversationID

	case domain.LeaveRoom:
		h.syncUC.LeaveRoom(ch, req.ConversationID)
		resp.Payload["conversation_id"] = req.ConversationID

	//訊息已由外部寫入db,這裡只負責通知聊天室
	case domain.NotifyMessage:
		messageID := req.MessageID
		if messageID == "" && req.Message != nil {
			messageID = req.Message.ID
		}
		var m *domain.Message
		m, err = h.syncUC.NotifyMessage(ctx, ch, req.ConversationID, messageID)
		if err == nil {
			resp.Payload["message_id"] = m.ID
		}

	case domain.DeliverMessage:
		var receipts []domain.Receipt
		receipts, err = h.syncUC.DeliveryReceipt(ctx, ch, req.MessageID, req.RecipientID)
		resp.Payload["message_id"] = req.MessageID
		resp.Payload["changed"] = len(receipts) > 0

	//讀取訊息  將未讀訊息改為已讀
	case domain.ReadMessage:
		var receipts []domain.Receipt
		receipts, err = h.syncUC.ReadReceipt(ctx, ch, req.MessageID)
		resp.Payload["message_id"] = req.MessageID
		resp.Payload["changed"] = len(receipts) > 0

	case domain.ReadAll:
		var ids []string
		ids, err = h.syncUC.MarkAllRead(ctx, req.ConversationID, ch.UserID())
		resp.Payload["conversation_id"] = req.ConversationID
		resp.Payload["message_ids"] = ids

	//搜尋所有未讀訊息
	case domain.GetUnread:
		var unread []domain.ConversationUnread
		unread, err = h.syncUC.UnreadCounts(ctx, ch.UserID())
		for _, u := range unread {
			resp.Payload[u.ConversationID] = u.UnreadCount
		}

	case domain.GetOnline:
		resp.Payload["users"] = h.syncUC.OnlineUsers()

	default:
		h.sendError(ch, "unknown action")
		return
	}

	if err != nil {
		resp.Error = domain.ClientError(err)
		logger.Log.Warn("websocket action failed",
			zap.String("userID", ch.UserID()),
			zap.String("action", req.Action),
			zap.Error(err),
		)
	} else {
		resp.Success = true
	}
	h.sendResponse(ch, resp)
}

func (h *ChatWebsocketHandler) sendResponse(ch *Channel, resp domain.WSResponse) {
	if err := ch.Send(resp); err != nil && !errors.Is(err, domain.ErrChannelClosed) {
		logger.Log.Warn("send response failed", zap.String("channelID", ch.ID()), zap.Error(err))
	}
}

func (h *ChatWebsocketHandler) sendError(ch *Channel, errorMsg string) {
	h.sendResponse(ch, domain.WSResponse{
		Action: string(domain.ErrorAction),
		Error:  errorMsg,
	})
}

func closeWebSocketConnection(conn *websocket.Conn, code int, reason string) {
	if err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second)); err != nil {
		logger.Log.Warn("send close message failed", zap.Error(err))
	}
}
