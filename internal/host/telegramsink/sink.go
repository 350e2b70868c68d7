// Package telegramsink is the reference host.ChatSink implementation:
// it posts a formatted instruction into a Telegram forum topic,
// generalizing the teacher's internal/telegram package (which posts
// directly from its email handler) into an adapter that only knows
// how to route a user id to a chat, decoupled from ingestion.
package telegramsink

import (
	"context"
	"fmt"
	"log/slog"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/relaymail/mailcore/internal/codes"
	"github.com/relaymail/mailcore/internal/host"
)

const codeCallbackPrefix = "code:"

const routesCollection = "chat_routes"

// ChatRoute maps a user id to the Telegram chat/topic that receives
// its instructions, set up by /connect or /create in the teacher's
// idiom, persisted through the same host.Storage every other
// collection uses.
type ChatRoute struct {
	UserID  string `json:"user_id"`
	ChatID  int64  `json:"chat_id"`
	TopicID int    `json:"topic_id"`
}

// Sink adapts *bot.Bot to host.ChatSink.
type Sink struct {
	bot      *tgbot.Bot
	storage  host.Storage
	detector *codes.Detector
	logger   *slog.Logger
}

// New wraps b as a host.ChatSink, routing per-user via storage's
// "chat_routes" collection.
func New(b *tgbot.Bot, storage host.Storage, logger *slog.Logger) *Sink {
	return &Sink{bot: b, storage: storage, detector: codes.New(), logger: logger.With("component", "telegram_sink")}
}

var _ host.ChatSink = (*Sink)(nil)

// AppendInstruction posts instr.Text into the chat/topic registered
// for instr.UserID. Grounded on the teacher's sendMessage helper.
func (s *Sink) AppendInstruction(ctx context.Context, instr host.Instruction) error {
	var route ChatRoute
	if err := s.storage.Get(ctx, routesCollection, instr.UserID, &route); err != nil {
		return fmt.Errorf("telegramsink: no chat route for user %s: %w", instr.UserID, err)
	}

	params := &tgbot.SendMessageParams{
		ChatID: route.ChatID,
		Text:   instr.Text,
	}
	if route.TopicID != 0 {
		params.MessageThreadID = route.TopicID
	}
	if keyboard := codeKeyboard(s.detector.Detect(instr.Text)); keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	if _, err := s.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("telegramsink: send message: %w", err)
	}
	return nil
}

// codeKeyboard builds one tappable button per detected code, tapping
// which pops an alert with the value so it can be copied out of the
// delivered message body without hunting through the text.
func codeKeyboard(found []codes.Detected) *tgmodels.InlineKeyboardMarkup {
	if len(found) == 0 {
		return nil
	}
	var buttons []tgmodels.InlineKeyboardButton
	for _, c := range found {
		buttons = append(buttons, tgmodels.InlineKeyboardButton{
			Text:         c.Value,
			CallbackData: codeCallbackPrefix + c.Value,
		})
	}
	var rows [][]tgmodels.InlineKeyboardButton
	for i := 0; i < len(buttons); i += 2 {
		end := i + 2
		if end > len(buttons) {
			end = len(buttons)
		}
		rows = append(rows, buttons[i:end])
	}
	return &tgmodels.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// RegisterRoute persists the chat/topic a user's instructions post
// to. Called by Commands' /connect and /create handlers.
func (s *Sink) RegisterRoute(ctx context.Context, route ChatRoute) error {
	if err := s.storage.Put(ctx, routesCollection, route.UserID, route); err != nil {
		return fmt.Errorf("telegramsink: register route: %w", err)
	}
	return nil
}
