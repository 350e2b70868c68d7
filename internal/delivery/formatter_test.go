package delivery

import (
	"context"
	"errors"
	"log/slog"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymail/mailcore/internal/host"
	"github.com/relaymail/mailcore/pkg/models"
)

func sampleMessage() *models.Parsed {
	return &models.Parsed{
		MessageID: "<abc@example.com>",
		UID:       42,
		From:      models.Address{Name: "Alice", Address: "alice@example.com"},
		To:        []models.Address{{Address: "me@example.com"}},
		Subject:   "Hello",
		Date:      time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC),
		BodyText:  "hi there",
	}
}

func TestFormatter_Format_IncludesAllFields(t *testing.T) {
	f := NewFormatter()
	text := f.Format(sampleMessage(), "Work Inbox", "reply politely")

	assert.True(t, strings.HasPrefix(text, "[New Email]\n"))
	assert.Contains(t, text, "From: Alice <alice@example.com>")
	assert.Contains(t, text, "To: me@example.com (Work Inbox)")
	assert.Contains(t, text, "Subject: Hello")
	assert.Contains(t, text, "Email content:\n---\nhi there\n---")
	assert.Contains(t, text, "reply politely")
}

func TestFormatter_Format_NoSubjectFallback(t *testing.T) {
	f := NewFormatter()
	msg := sampleMessage()
	msg.Subject = ""
	text := f.Format(msg, "Work Inbox", "")

	assert.Contains(t, text, "Subject: (No subject)")
	assert.False(t, strings.HasSuffix(strings.TrimRight(text, "\n"), "\n"), "no trailing instruction line when empty")
}

func TestFormatter_Format_TruncatesLongBody(t *testing.T) {
	f := NewFormatter()
	msg := sampleMessage()
	msg.BodyText = strings.Repeat("x", 3000)
	text := f.Format(msg, "Work Inbox", "")

	assert.Contains(t, text, strings.Repeat("x", bodyTruncateLimit)+"…")
	assert.NotContains(t, text, strings.Repeat("x", bodyTruncateLimit+1))
}

type fakeSink struct {
	posted []host.Instruction
	err    error
}

func (f *fakeSink) AppendInstruction(ctx context.Context, instr host.Instruction) error {
	if f.err != nil {
		return f.err
	}
	f.posted = append(f.posted, instr)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeliverer_Deliver_PostsFormattedText(t *testing.T) {
	sink := &fakeSink{}
	d := NewDeliverer(sink, discardLogger())

	require.NoError(t, d.Deliver(context.Background(), "u1", "Work Inbox", "", sampleMessage()))
	require.Len(t, sink.posted, 1)
	assert.Equal(t, "u1", sink.posted[0].UserID)
	assert.Contains(t, sink.posted[0].Text, "[New Email]")
}

// TestDeliverer_Deliver_SinkFailureDoesNotPanic covers the fire-and-
// forget contract: a sink error is surfaced to the caller for logging
// but delivery never retries or rolls back a claim.
func TestDeliverer_Deliver_SinkFailureDoesNotPanic(t *testing.T) {
	sink := &fakeSink{err: errors.New("network down")}
	d := NewDeliverer(sink, discardLogger())

	err := d.Deliver(context.Background(), "u1", "Work Inbox", "", sampleMessage())
	assert.Error(t, err)
}
