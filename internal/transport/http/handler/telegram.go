package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"memoryvault/internal/app"
	"memoryvault/internal/model"
	"memoryvault/internal/telegram"
	"memoryvault/internal/transport/http/response"
)

const webhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// UpdateHandler consumes one parsed webhook update.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update *telegram.Update)
}

// BotAPI covers the Bot API management calls the HTTP boundary exposes.
type BotAPI interface {
	GetMe(ctx context.Context) (*telegram.BotInfo, error)
	SetWebhook(ctx context.Context, url, secretToken string) error
	DeleteWebhook(ctx context.Context) error
}

type AuthAPI interface {
	GenerateCode(userID string) (*app.GenerateCodeResult, error)
	ConnectionByUserID(userID string) (*model.TelegramConnection, error)
	Disconnect(userID string) (bool, error)
}

type MemoryCounter interface {
	MemoryCount(userID string) (int64, error)
}

type TelegramHandler struct {
	updates       UpdateHandler
	botAPI        BotAPI
	auth          AuthAPI
	memories      MemoryCounter
	webhookURL    string
	webhookSecret string
}

func NewTelegramHandler(updates UpdateHandler, botAPI BotAPI, auth AuthAPI, memories MemoryCounter, webhookURL, webhookSecret string) *TelegramHandler {
	return &TelegramHandler{
		updates:       updates,
		botAPI:        botAPI,
		auth:          auth,
		memories:      memories,
		webhookURL:    webhookURL,
		webhookSecret: webhookSecret,
	}
}

// Webhook receives the chat transport's signed payload. Handler outcomes are
// not surfaced to Telegram: a non-2xx would trigger redelivery of an update
// we already reported to the sender.
func (h *TelegramHandler) Webhook(c *gin.Context) {
	if h.webhookSecret != "" && c.GetHeader(webhookSecretHeader) != h.webhookSecret {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid webhook secret token")
		return
	}

	var update telegram.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		log.Printf("webhook decode failed: %v", err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "invalid update payload")
		return
	}

	h.updates.HandleUpdate(c.Request.Context(), &update)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *TelegramHandler) SetWebhook(c *gin.Context) {
	if strings.TrimSpace(h.webhookURL) == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "webhook url is not configured")
		return
	}
	if err := h.botAPI.SetWebhook(c.Request.Context(), h.webhookURL, h.webhookSecret); err != nil {
		log.Printf("set webhook failed: %v", err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "set webhook failed")
		return
	}
	response.OK(c, gin.H{"webhook_url": h.webhookURL})
}

func (h *TelegramHandler) RemoveWebhook(c *gin.Context) {
	if err := h.botAPI.DeleteWebhook(c.Request.Context()); err != nil {
		log.Printf("remove webhook failed: %v", err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "remove webhook failed")
		return
	}
	response.OK(c, gin.H{"removed": true})
}

func (h *TelegramHandler) BotInfo(c *gin.Context) {
	info, err := h.botAPI.GetMe(c.Request.Context())
	if err != nil {
		log.Printf("get bot info failed: %v", err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get bot info failed")
		return
	}
	response.OK(c, info)
}

func (h *TelegramHandler) GenerateAuthCode(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "user_id is required")
		return
	}

	result, err := h.auth.GenerateCode(userID)
	if err != nil {
		if errors.Is(err, app.ErrInvalidInput) {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
			return
		}
		log.Printf("generate auth code failed: %v", err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "generate auth code failed")
		return
	}
	response.OK(c, result)
}

func (h *TelegramHandler) ConnectionStatus(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "user_id is required")
		return
	}

	conn, err := h.auth.ConnectionByUserID(userID)
	if err != nil {
		if errors.Is(err, app.ErrInvalidInput) {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
			return
		}
		log.Printf("connection status failed: %v", err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "connection status failed")
		return
	}
	if conn == nil {
		response.OK(c, gin.H{"connected": false})
		return
	}

	count, err := h.memories.MemoryCount(userID)
	if err != nil {
		log.Printf("memory count failed: %v", err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "connection status failed")
		return
	}

	response.OK(c, gin.H{
		"connected":          true,
		"telegram_username":  conn.TelegramUsername,
		"telegram_first_name": conn.TelegramFirstName,
		"connected_at":       conn.ConnectedAt,
		"last_activity_at":   conn.LastActivityAt,
		"memory_count":       count,
	})
}

func (h *TelegramHandler) Disconnect(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "user_id is required")
		return
	}

	changed, err := h.auth.Disconnect(userID)
	if err != nil {
		if errors.Is(err, app.ErrInvalidInput) {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
			return
		}
		log.Printf("disconnect failed: %v", err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "disconnect failed")
		return
	}
	response.OK(c, gin.H{"success": changed})
}
