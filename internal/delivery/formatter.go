// Package delivery implements spec.md §4.C6: rendering a Parsed email
// plus the user's instruction template into a single textual block and
// posting it once to the external chat sink. Grounded on the teacher's
// internal/formatter/telegram.go (FormatEmail), generalized from
// Telegram HTML markup to the plain-text block spec.md §4.C6 pins, and
// internal/telegram/bot.go's send path for the sink shape.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/relaymail/mailcore/internal/host"
	"github.com/relaymail/mailcore/pkg/models"
)

const bodyTruncateLimit = 2000

// Formatter renders a Parsed email into the fixed [New Email] block.
type Formatter struct {
	maxBodyChars int
}

// NewFormatter constructs a Formatter with spec.md's 2000-char body
// truncation limit.
func NewFormatter() *Formatter {
	return &Formatter{maxBodyChars: bodyTruncateLimit}
}

// Format renders msg for accountDisplayName, appending instruction
// when non-empty.
func (f *Formatter) Format(msg *models.Parsed, accountDisplayName, instruction string) string {
	var sb strings.Builder

	sb.WriteString("[New Email]\n")
	sb.WriteString(fmt.Sprintf("From: %s\n", formatAddress(msg.From)))
	sb.WriteString(fmt.Sprintf("To: %s (%s)\n", formatAddressList(msg.To), accountDisplayName))

	subject := msg.Subject
	if subject == "" {
		subject = "(No subject)"
	}
	sb.WriteString(fmt.Sprintf("Subject: %s\n", subject))
	sb.WriteString(fmt.Sprintf("Date: %s\n", formatDate(msg.Date)))
	sb.WriteString("Email content:\n---\n")
	sb.WriteString(f.truncate(msg.BodyText))
	sb.WriteString("\n---")

	if strings.TrimSpace(instruction) != "" {
		sb.WriteString("\n")
		sb.WriteString(instruction)
	}

	return sb.String()
}

func (f *Formatter) truncate(body string) string {
	runes := []rune(body)
	if len(runes) <= f.maxBodyChars {
		return body
	}
	return string(runes[:f.maxBodyChars]) + "…"
}

func formatAddress(a models.Address) string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}

func formatAddressList(addrs []models.Address) string {
	if len(addrs) == 0 {
		return "(unknown)"
	}
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.Address
	}
	return strings.Join(parts, ", ")
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "(unknown)"
	}
	return t.Local().Format("02.01.2006 15:04")
}

// Deliverer wires the Formatter to a host.ChatSink. It is
// fire-and-forget by design (spec.md §4.C6): a failed post is logged,
// never rolled back, since the C5 claim already made delivery
// at-most-once.
type Deliverer struct {
	fmt    *Formatter
	sink   host.ChatSink
	logger *slog.Logger
}

// NewDeliverer builds a Deliverer over sink.
func NewDeliverer(sink host.ChatSink, logger *slog.Logger) *Deliverer {
	return &Deliverer{
		fmt:    NewFormatter(),
		sink:   sink,
		logger: logger.With("component", "delivery"),
	}
}

// Deliver formats msg and posts it once, scoped to userID. A sink
// failure is logged at warn level and returned wrapped; nothing is
// retried.
func (d *Deliverer) Deliver(ctx context.Context, userID, accountDisplayName, instruction string, msg *models.Parsed) error {
	text := d.fmt.Format(msg, accountDisplayName, instruction)
	err := d.sink.AppendInstruction(ctx, host.Instruction{UserID: userID, Text: text})
	if err != nil {
		d.logger.Warn("delivery: sink post failed", "user_id", userID, "message_id", msg.MessageID, "error", err)
		return fmt.Errorf("delivery: post: %w", err)
	}
	return nil
}
