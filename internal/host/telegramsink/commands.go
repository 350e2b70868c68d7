package telegramsink

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/relaymail/mailcore/internal/host/mailcow"
	"github.com/relaymail/mailcore/internal/tools"
	"github.com/relaymail/mailcore/pkg/models"
)

// Commands is the reference command surface: it dispatches the
// /connect, /create, /disconnect, /status and /settings slash commands
// (plus /start and /help) onto internal/tools.Surface,
// generalizing the teacher's internal/telegram/{bot,handlers}.go from a
// hard-coded per-topic email account into calls against the tool
// surface spec.md §6 names. One Telegram (chat, topic) pair is treated
// as one user id, exactly as the teacher scopes one account per topic.
type Commands struct {
	bot     *tgbot.Bot
	tools   *tools.Surface
	sink    *Sink
	mailcow *mailcow.Client
	logger  *slog.Logger
}

// NewCommands builds a Commands dispatcher. mailcowClient may be nil,
// disabling /create. sink is used to register the chat/topic route a
// newly connected account's instructions post back to.
func NewCommands(surface *tools.Surface, sink *Sink, mailcowClient *mailcow.Client, logger *slog.Logger) *Commands {
	return &Commands{tools: surface, sink: sink, mailcow: mailcowClient, logger: logger.With("component", "telegram_commands")}
}

// BotOptions returns the bot.Option needed at construction time,
// before the *bot.Bot instance exists to attach a receiver to
// RegisterHandler.
func (c *Commands) BotOptions() []tgbot.Option {
	return []tgbot.Option{tgbot.WithDefaultHandler(c.defaultHandler)}
}

// SetSink attaches the ChatSink used to register a chat/topic route
// once an account is connected. The bot must exist before a Sink can
// be built, so this is set after construction rather than passed to
// NewCommands.
func (c *Commands) SetSink(s *Sink) { c.sink = s }

// Attach binds the constructed bot and registers every slash command.
// Call once, right after tgbot.New.
func (c *Commands) Attach(b *tgbot.Bot) {
	c.bot = b
	c.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypePrefix, c.handleHelp)
	c.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/help", tgbot.MatchTypePrefix, c.handleHelp)
	c.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/connect", tgbot.MatchTypePrefix, c.handleConnect)
	c.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/create", tgbot.MatchTypePrefix, c.handleCreate)
	c.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/disconnect", tgbot.MatchTypePrefix, c.handleDisconnect)
	c.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/status", tgbot.MatchTypePrefix, c.handleStatus)
	c.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/settings", tgbot.MatchTypePrefix, c.handleSettings)
	c.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, codeCallbackPrefix, tgbot.MatchTypePrefix, c.handleCodeCallback)
}

// handleCodeCallback answers a tapped code button with an alert
// carrying the value, so it can be copied without re-reading the
// delivered message body.
func (c *Commands) handleCodeCallback(ctx context.Context, b *tgbot.Bot, update *tgmodels.Update) {
	callback := update.CallbackQuery
	if callback == nil {
		return
	}
	value := strings.TrimPrefix(callback.Data, codeCallbackPrefix)
	if _, err := c.bot.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
		CallbackQueryID: callback.ID,
		Text:            fmt.Sprintf("Code: %s", value),
		ShowAlert:       true,
	}); err != nil {
		c.logger.Warn("failed to answer code callback", "error", err)
	}
}

func (c *Commands) defaultHandler(ctx context.Context, b *tgbot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	if strings.HasPrefix(update.Message.Text, "/") {
		c.logger.Debug("unknown command", "text", update.Message.Text)
	}
}

func userIDFor(chatID int64, topicID int) string {
	return fmt.Sprintf("tg:%d:%d", chatID, topicID)
}

func (c *Commands) reply(ctx context.Context, msg *tgmodels.Message, text string) {
	params := &tgbot.SendMessageParams{ChatID: msg.Chat.ID, Text: text, ParseMode: tgmodels.ParseModeHTML}
	if msg.MessageThreadID != 0 {
		params.MessageThreadID = msg.MessageThreadID
	}
	if _, err := c.bot.SendMessage(ctx, params); err != nil {
		c.logger.Warn("send message failed", "error", err)
	}
}

func (c *Commands) handleHelp(ctx context.Context, b *tgbot.Bot, update *tgmodels.Update) {
	text := "<b>Mail relay bot</b>\n\n" +
		"/connect email password [imap_host:port] - connect an existing IMAP mailbox to this topic\n" +
		"/disconnect - stop forwarding for this topic\n" +
		"/status - show the account connected to this topic\n" +
		"/settings text - set the delivery instruction for this topic\n"
	if c.mailcow.Enabled() {
		text += "/create local_part [password] [name] - provision a mailbox on " + c.mailcow.Domain()
	}
	c.reply(ctx, update.Message, text)
}

// handleConnect: /connect email password [imap_host[:port]]
func (c *Commands) handleConnect(ctx context.Context, b *tgbot.Bot, update *tgmodels.Update) {
	msg := update.Message
	parts := strings.Fields(msg.Text)
	if len(parts) < 3 || len(parts) > 4 {
		c.reply(ctx, msg, "Usage: <code>/connect email@example.com password [imap.host.com:993]</code>")
		return
	}
	email, password := parts[1], parts[2]
	userID := userIDFor(msg.Chat.ID, msg.MessageThreadID)

	if _, err := c.bot.DeleteMessage(ctx, &tgbot.DeleteMessageParams{ChatID: msg.Chat.ID, MessageID: msg.ID}); err != nil {
		c.logger.Warn("failed to delete connect message", "error", err)
	}

	in := tools.AddAccountInput{
		Provider: models.ProviderIMAP,
		Email:    email,
		AuthKind: models.AuthPassword,
		Password: password,
	}
	if len(parts) == 4 {
		in.IMAPHost, in.IMAPPort = splitHostPort(parts[3])
	}

	res := c.tools.AccountsAdd(ctx, userID, in)
	if !res.Success {
		c.reply(ctx, msg, fmt.Sprintf("Connection failed: %s", res.Error))
		return
	}

	if err := c.sink.RegisterRoute(ctx, ChatRoute{UserID: userID, ChatID: msg.Chat.ID, TopicID: msg.MessageThreadID}); err != nil {
		c.logger.Warn("failed to register chat route", "error", err)
	}

	account := res.Data.(*models.Account)
	c.reply(ctx, msg, fmt.Sprintf("Mailbox <b>%s</b> connected to this topic.\nServer: %s:%d\n\nNew mail will be forwarded here.", account.Email, account.IMAPHost, account.IMAPPort))
}

// handleCreate: /create local_part [password] [name]
func (c *Commands) handleCreate(ctx context.Context, b *tgbot.Bot, update *tgmodels.Update) {
	msg := update.Message
	if !c.mailcow.Enabled() {
		c.reply(ctx, msg, "Mailcow integration is not configured")
		return
	}
	parts := strings.Fields(msg.Text)
	if len(parts) < 2 {
		c.reply(ctx, msg, fmt.Sprintf("Usage: <code>/create username [password] [name]</code>\nCreates username@%s", c.mailcow.Domain()))
		return
	}
	localPart := parts[1]
	password, name := "", localPart
	if len(parts) >= 3 {
		password = parts[2]
	}
	if len(parts) >= 4 {
		name = strings.Join(parts[3:], " ")
	}
	if password != "" {
		if _, err := c.bot.DeleteMessage(ctx, &tgbot.DeleteMessageParams{ChatID: msg.Chat.ID, MessageID: msg.ID}); err != nil {
			c.logger.Warn("failed to delete create message", "error", err)
		}
	}

	mailbox, err := c.mailcow.CreateMailbox(ctx, localPart, name, password, 0)
	if err != nil {
		c.reply(ctx, msg, fmt.Sprintf("Mailbox provisioning failed: %v", err))
		return
	}
	hostPort, err := c.mailcow.IMAPHostPort()
	if err != nil {
		c.reply(ctx, msg, fmt.Sprintf("Mailbox provisioning failed: %v", err))
		return
	}
	imapHost, imapPort := splitHostPort(hostPort)

	userID := userIDFor(msg.Chat.ID, msg.MessageThreadID)
	res := c.tools.AccountsAdd(ctx, userID, tools.AddAccountInput{
		Provider: models.ProviderIMAP,
		Email:    mailbox.Email(),
		IMAPHost: imapHost,
		IMAPPort: imapPort,
		AuthKind: models.AuthPassword,
		Password: mailbox.Password,
	})
	if !res.Success {
		c.reply(ctx, msg, fmt.Sprintf("Mailbox created but could not be connected: %s", res.Error))
		return
	}
	if err := c.sink.RegisterRoute(ctx, ChatRoute{UserID: userID, ChatID: msg.Chat.ID, TopicID: msg.MessageThreadID}); err != nil {
		c.logger.Warn("failed to register chat route", "error", err)
	}

	c.reply(ctx, msg, fmt.Sprintf("Mailbox provisioned.\n\n<b>Email:</b> <code>%s</code>\n<b>Password:</b> <code>%s</code>\n<b>IMAP:</b> %s\n\nNew mail will be forwarded here.", mailbox.Email(), mailbox.Password, hostPort))
}

func (c *Commands) handleDisconnect(ctx context.Context, b *tgbot.Bot, update *tgmodels.Update) {
	msg := update.Message
	userID := userIDFor(msg.Chat.ID, msg.MessageThreadID)

	list := c.tools.AccountsList(ctx, userID)
	if !list.Success {
		c.reply(ctx, msg, fmt.Sprintf("Failed to look up accounts: %s", list.Error))
		return
	}
	accounts := list.Data.([]*models.Account)
	if len(accounts) == 0 {
		c.reply(ctx, msg, "No mailbox is connected to this topic")
		return
	}

	for _, account := range accounts {
		if res := c.tools.AccountsDelete(ctx, userID, account.ID); !res.Success {
			c.reply(ctx, msg, fmt.Sprintf("Failed to disconnect %s: %s", account.Email, res.Error))
			return
		}
	}
	c.reply(ctx, msg, "Mailbox disconnected from this topic")
}

func (c *Commands) handleStatus(ctx context.Context, b *tgbot.Bot, update *tgmodels.Update) {
	msg := update.Message
	userID := userIDFor(msg.Chat.ID, msg.MessageThreadID)

	res := c.tools.AccountsList(ctx, userID)
	if !res.Success {
		c.reply(ctx, msg, fmt.Sprintf("Failed to look up accounts: %s", res.Error))
		return
	}
	accounts := res.Data.([]*models.Account)
	if len(accounts) == 0 {
		c.reply(ctx, msg, "No mailbox is connected to this topic")
		return
	}

	var b2 strings.Builder
	for _, account := range accounts {
		status := "enabled"
		if !account.Enabled {
			status = "disabled"
		}
		fmt.Fprintf(&b2, "<b>%s</b> (%s) - %s\n", account.Email, account.Provider, status)
		if account.LastError != "" {
			fmt.Fprintf(&b2, "  last error: %s\n", account.LastError)
		}
	}
	c.reply(ctx, msg, b2.String())
}

func (c *Commands) handleSettings(ctx context.Context, b *tgbot.Bot, update *tgmodels.Update) {
	msg := update.Message
	userID := userIDFor(msg.Chat.ID, msg.MessageThreadID)

	instruction := strings.TrimSpace(strings.TrimPrefix(msg.Text, "/settings"))
	res := c.tools.SettingsUpdate(ctx, userID, instruction)
	if !res.Success {
		c.reply(ctx, msg, fmt.Sprintf("Failed to save settings: %s", res.Error))
		return
	}
	c.reply(ctx, msg, "Delivery instruction updated")
}

func splitHostPort(hostPort string) (string, int) {
	h, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return hostPort, 993
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port == 0 {
		port = 993
	}
	return h, port
}
