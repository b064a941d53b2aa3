package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"memoryvault/internal/app"
	"memoryvault/internal/model"
	"memoryvault/internal/telegram"
)

const (
	memorySource = "telegram"
	listLimit    = 5
	searchLimit  = 5
)

// Messenger sends replies back through the chat transport.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

type AuthManager interface {
	VerifyAndConnect(input app.ConnectInput) (*model.TelegramConnection, error)
	ConnectionByTelegramUserID(ctx context.Context, telegramUserID int64) (*model.TelegramConnection, error)
}

type MemoryManager interface {
	CreateTextMemory(ctx context.Context, userID, title, content, source string) (*app.CreateMemoryResult, error)
	CreateFileMemory(ctx context.Context, input app.CreateFileMemoryInput) (*app.CreateMemoryResult, error)
	ListRecent(userID string, limit int) ([]model.Memory, error)
	Search(ctx context.Context, userID, query string, limit int) (*app.SearchResult, error)
	MemoryCount(userID string) (int64, error)
}

// Bot dispatches inbound updates to command handlers. It keeps no state
// between updates; the persisted connection is the only context a message is
// handled with.
type Bot struct {
	tg       Messenger
	auth     AuthManager
	memories MemoryManager
}

func New(tg Messenger, auth AuthManager, memories MemoryManager) *Bot {
	return &Bot{
		tg:       tg,
		auth:     auth,
		memories: memories,
	}
}

// HandleUpdate processes one webhook update. It never returns an error to
// the webhook endpoint: failures are logged and reported to the sender, so
// the transport does not redeliver.
func (b *Bot) HandleUpdate(ctx context.Context, update *telegram.Update) {
	if update == nil || update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}
	msg := update.Message
	if msg.From.IsBot {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("update %d handler panicked: %v", update.UpdateID, r)
			b.reply(ctx, msg.Chat.ID, "An error occurred while processing your message. Please try again.")
		}
	}()

	if err := b.dispatch(ctx, msg); err != nil {
		log.Printf("update %d handler failed: %v", update.UpdateID, err)
		b.reply(ctx, msg.Chat.ID, "An error occurred while processing your message. Please try again.")
	}
}

func (b *Bot) dispatch(ctx context.Context, msg *telegram.Message) error {
	command, args := parseCommand(msg.Text)

	switch command {
	case "/start":
		return b.handleStart(ctx, msg)
	case "/help":
		return b.handleHelp(ctx, msg)
	case "/connect":
		return b.handleConnect(ctx, msg, args)
	}

	// Everything below requires an active connection.
	conn, err := b.auth.ConnectionByTelegramUserID(ctx, msg.From.ID)
	if err != nil {
		return err
	}
	if conn == nil {
		return b.reply(ctx, msg.Chat.ID,
			"You are not connected yet. Open MemoryVault settings, generate a code, then send:\n`/connect YOUR-CODE`")
	}

	switch {
	case command == "/status":
		return b.handleStatus(ctx, msg, conn)
	case command == "/add":
		return b.handleAdd(ctx, msg, conn, args)
	case command == "/list":
		return b.handleList(ctx, msg, conn)
	case command == "/search":
		return b.handleSearch(ctx, msg, conn, args)
	case command != "":
		return b.reply(ctx, msg.Chat.ID, "Unknown command. Send /help to see what I can do.")
	case len(msg.Photo) > 0:
		return b.handlePhoto(ctx, msg, conn)
	case msg.Document != nil:
		return b.handleDocument(ctx, msg, conn)
	case strings.TrimSpace(msg.Text) != "":
		return b.handleText(ctx, msg, conn)
	default:
		return b.reply(ctx, msg.Chat.ID, "I can save text, photos and documents. Send /help for details.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *telegram.Message) error {
	return b.reply(ctx, msg.Chat.ID,
		"Welcome to *MemoryVault*! I save your notes, photos and documents as searchable memories.\n\n"+
			"To link this chat to your account, generate a code in MemoryVault settings and send:\n"+
			"`/connect YOUR-CODE`\n\nSend /help to see all commands.")
}

func (b *Bot) handleHelp(ctx context.Context, msg *telegram.Message) error {
	return b.reply(ctx, msg.Chat.ID,
		"*MemoryVault commands*\n"+
			"/connect `<code>` - link this chat to your account\n"+
			"/status - connection and memory count\n"+
			"/add `<text>` - save a memory\n"+
			"/list - your latest memories\n"+
			"/search `<query>` - find memories\n"+
			"/help - this message\n\n"+
			"You can also just send me text, a photo or a document and I will save it.")
}

func (b *Bot) handleConnect(ctx context.Context, msg *telegram.Message, args string) error {
	code := strings.TrimSpace(args)
	if code == "" {
		return b.reply(ctx, msg.Chat.ID, "Usage: `/connect YOUR-CODE`")
	}

	_, err := b.auth.VerifyAndConnect(app.ConnectInput{
		Code:              code,
		TelegramUserID:    msg.From.ID,
		TelegramUsername:  msg.From.Username,
		TelegramFirstName: msg.From.FirstName,
		TelegramLastName:  msg.From.LastName,
	})
	switch {
	case err == nil:
		return b.reply(ctx, msg.Chat.ID,
			"Connected! Your memories now sync with MemoryVault. Send me anything to save it.")
	case errors.Is(err, app.ErrInvalidCode), errors.Is(err, app.ErrInvalidInput):
		return b.reply(ctx, msg.Chat.ID, "That code is not valid. Check it and try again.")
	case errors.Is(err, app.ErrCodeAlreadyUsed):
		return b.reply(ctx, msg.Chat.ID, "That code was already used. Generate a new one in MemoryVault settings.")
	case errors.Is(err, app.ErrCodeExpired):
		return b.reply(ctx, msg.Chat.ID, "That code has expired. Generate a new one in MemoryVault settings.")
	case errors.Is(err, app.ErrAlreadyConnected):
		return b.reply(ctx, msg.Chat.ID, "This Telegram account is already linked to a different MemoryVault user.")
	default:
		return err
	}
}

func (b *Bot) handleStatus(ctx context.Context, msg *telegram.Message, conn *model.TelegramConnection) error {
	count, err := b.memories.MemoryCount(conn.UserID)
	if err != nil {
		return err
	}
	return b.reply(ctx, msg.Chat.ID, fmt.Sprintf(
		"*Connected:* yes\n*Connected since:* %s\n*Memories:* %d",
		conn.ConnectedAt.Format("2006-01-02 15:04"), count))
}

func (b *Bot) handleAdd(ctx context.Context, msg *telegram.Message, conn *model.TelegramConnection, args string) error {
	text := strings.TrimSpace(args)
	if text == "" {
		return b.reply(ctx, msg.Chat.ID, "Usage: `/add your text here`")
	}
	return b.saveText(ctx, msg, conn, text)
}

func (b *Bot) handleText(ctx context.Context, msg *telegram.Message, conn *model.TelegramConnection) error {
	return b.saveText(ctx, msg, conn, strings.TrimSpace(msg.Text))
}

func (b *Bot) saveText(ctx context.Context, msg *telegram.Message, conn *model.TelegramConnection, text string) error {
	result, err := b.memories.CreateTextMemory(ctx, conn.UserID, "", text, memorySource)
	if err != nil {
		return err
	}
	reply := fmt.Sprintf("Saved: *%s*", result.Title)
	if !result.EmbeddingAttached {
		reply += "\n_(semantic search for this memory will be available shortly)_"
	}
	return b.reply(ctx, msg.Chat.ID, reply)
}

func (b *Bot) handleList(ctx context.Context, msg *telegram.Message, conn *model.TelegramConnection) error {
	memories, err := b.memories.ListRecent(conn.UserID, listLimit)
	if err != nil {
		return err
	}
	if len(memories) == 0 {
		return b.reply(ctx, msg.Chat.ID, "No memories yet. Send me anything to save your first one.")
	}

	var sb strings.Builder
	sb.WriteString("*Your latest memories:*\n")
	for _, m := range memories {
		fmt.Fprintf(&sb, "%d. %s _(%s)_\n", m.IndexPosition, m.Title, m.CreatedAt.Format("Jan 2"))
	}
	return b.reply(ctx, msg.Chat.ID, sb.String())
}

func (b *Bot) handleSearch(ctx context.Context, msg *telegram.Message, conn *model.TelegramConnection, args string) error {
	query := strings.TrimSpace(args)
	if query == "" {
		return b.reply(ctx, msg.Chat.ID, "Usage: `/search your query`")
	}

	result, err := b.memories.Search(ctx, conn.UserID, query, searchLimit)
	if err != nil {
		return err
	}
	if len(result.Items) == 0 {
		return b.reply(ctx, msg.Chat.ID, fmt.Sprintf("Nothing found for *%s*.", query))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "*Results for %s:*\n", query)
	for i, item := range result.Items {
		fmt.Fprintf(&sb, "%d. %s", i+1, item.Memory.Title)
		if result.Mode == app.SearchModeVector {
			fmt.Fprintf(&sb, " _(%.0f%%)_", item.Similarity*100)
		}
		sb.WriteString("\n")
	}
	return b.reply(ctx, msg.Chat.ID, sb.String())
}

func (b *Bot) handlePhoto(ctx context.Context, msg *telegram.Message, conn *model.TelegramConnection) error {
	photo := msg.LargestPhoto()
	if photo == nil {
		return b.reply(ctx, msg.Chat.ID, "I could not read that photo.")
	}

	fileName := fmt.Sprintf("photo_%d.jpg", msg.MessageID)
	result, err := b.memories.CreateFileMemory(ctx, app.CreateFileMemoryInput{
		UserID:        conn.UserID,
		Content:       strings.TrimSpace(msg.Caption),
		FileRef:       photo.FileID,
		FileName:      fileName,
		FileType:      "image",
		ContentType:   "image/jpeg",
		Source:        memorySource,
		DescribeImage: true,
	})
	if err != nil {
		return err
	}
	return b.replyFileSaved(ctx, msg.Chat.ID, result, "photo")
}

func (b *Bot) handleDocument(ctx context.Context, msg *telegram.Message, conn *model.TelegramConnection) error {
	doc := msg.Document
	fileName := strings.TrimSpace(doc.FileName)
	if fileName == "" {
		fileName = fmt.Sprintf("document_%d", msg.MessageID)
	}

	result, err := b.memories.CreateFileMemory(ctx, app.CreateFileMemoryInput{
		UserID:      conn.UserID,
		Content:     strings.TrimSpace(msg.Caption),
		FileRef:     doc.FileID,
		FileName:    fileName,
		FileType:    fileTypeFromMime(doc.MimeType, fileName),
		ContentType: doc.MimeType,
		Source:      memorySource,
	})
	if err != nil {
		return err
	}
	return b.replyFileSaved(ctx, msg.Chat.ID, result, "document")
}

func (b *Bot) replyFileSaved(ctx context.Context, chatID int64, result *app.CreateMemoryResult, kind string) error {
	if result.FileFellBack {
		return b.reply(ctx, chatID, fmt.Sprintf(
			"I saved a note about your %s, but %s. You can try sending it again.", kind, result.FallbackReason))
	}
	return b.reply(ctx, chatID, fmt.Sprintf("Saved your %s: *%s*", kind, result.Title))
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) error {
	if err := b.tg.SendMessage(ctx, chatID, text); err != nil {
		return fmt.Errorf("send reply failed: %w", err)
	}
	return nil
}

// parseCommand splits "/cmd@botname args" into its command and arguments;
// non-command text yields an empty command.
func parseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}

	command := text
	args := ""
	if idx := strings.IndexAny(text, " \n"); idx >= 0 {
		command = text[:idx]
		args = strings.TrimSpace(text[idx+1:])
	}
	if at := strings.IndexByte(command, '@'); at >= 0 {
		command = command[:at]
	}
	return strings.ToLower(command), args
}

func fileTypeFromMime(mimeType, fileName string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case mimeType == "application/pdf" || strings.HasSuffix(strings.ToLower(fileName), ".pdf"):
		return "pdf"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	default:
		return "document"
	}
}
