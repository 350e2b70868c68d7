package telegramsink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymail/mailcore/internal/codes"
	"github.com/relaymail/mailcore/internal/host/sqlitehost"
)

func TestRegisterRoute_PersistsThroughStorage(t *testing.T) {
	db, err := sqlitehost.New(context.Background(), ":memory:", make([]byte, 32))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	storage := sqlitehost.NewStorage(db)
	sink := &Sink{storage: storage}

	require.NoError(t, sink.RegisterRoute(context.Background(), ChatRoute{UserID: "u1", ChatID: 123, TopicID: 7}))

	var got ChatRoute
	require.NoError(t, storage.Get(context.Background(), routesCollection, "u1", &got))
	assert.Equal(t, int64(123), got.ChatID)
	assert.Equal(t, 7, got.TopicID)
}

func TestCodeKeyboard_NoMatchesReturnsNilMarkup(t *testing.T) {
	assert.Nil(t, codeKeyboard(nil))
}

func TestCodeKeyboard_BuildsOneButtonPerCodeInRowsOfTwo(t *testing.T) {
	detected := codes.New().Detect("your otp code: 483920\nverification code 12345")
	require.NotEmpty(t, detected)

	kb := codeKeyboard(detected)
	require.NotNil(t, kb)

	var buttons int
	for _, row := range kb.InlineKeyboard {
		assert.LessOrEqual(t, len(row), 2)
		buttons += len(row)
		for _, btn := range row {
			assert.Equal(t, codeCallbackPrefix+btn.Text, btn.CallbackData)
		}
	}
	assert.Equal(t, len(detected), buttons)
}
