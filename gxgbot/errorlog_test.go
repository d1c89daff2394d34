package gxgbot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorLogRecordAndGet(t *testing.T) {
	ctx := context.Background()
	el := NewErrorLog(newTestDB(t), nil, nil)

	record, err := el.Record(
		ctx,
		"command:rank",
		errors.New("something broke"),
		"user-1",
		"guild-1",
	)
	require.NoError(t, err)
	require.NotZero(t, record.ID)
	assert.Equal(t, "command:rank", record.Source)
	assert.Equal(t, "something broke", record.Message)
	assert.NotEmpty(t, record.Stack)

	fetched, err := el.GetByID(ctx, record.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, record.Message, fetched.Message)
	assert.Equal(t, "user-1", fetched.UserID)
}

func TestErrorLogGetMissing(t *testing.T) {
	el := NewErrorLog(newTestDB(t), nil, nil)
	record, err := el.GetByID(context.Background(), 12345)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestErrorLogRecent(t *testing.T) {
	ctx := context.Background()
	el := NewErrorLog(newTestDB(t), nil, nil)

	for n := 0; n < 15; n++ {
		_, err := el.Record(
			ctx,
			fmt.Sprintf("source-%d", n),
			errors.New("boom"),
			"",
			"",
		)
		require.NoError(t, err)
	}

	records, err := el.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, records, 10)
}

func TestErrorLogDelete(t *testing.T) {
	ctx := context.Background()
	el := NewErrorLog(newTestDB(t), nil, nil)

	record, err := el.Record(ctx, "source", errors.New("boom"), "", "")
	require.NoError(t, err)

	deleted, err := el.Delete(ctx, record.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	fetched, err := el.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Nil(t, fetched)
}

func TestErrorLogEmitsEvent(t *testing.T) {
	ctx := context.Background()
	events := NewEventBus(nil)
	el := NewErrorLog(newTestDB(t), events, nil)

	received := make(chan *ErrorLoggedEvent, 1)
	events.Subscribe(
		EventErrorLogged, func(_ context.Context, payload any) {
			if event, ok := payload.(*ErrorLoggedEvent); ok {
				received <- event
			}
		},
	)

	record, err := el.Record(ctx, "source", errors.New("boom"), "", "")
	require.NoError(t, err)

	select {
	case event := <-received:
		require.NotNil(t, event.Record)
		assert.Equal(t, record.ID, event.Record.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error event")
	}
}

func TestErrorRecordRendering(t *testing.T) {
	record := &ErrorRecord{
		ModelUintID: ModelUintID{ID: 7},
		Source:      "command:mute",
		Message:     "permission denied",
		Stack:       "goroutine 1 [running]:",
		UserID:      "user-1",
	}

	private := record.embed()
	assert.Equal(t, "Error #7", private.Title)
	require.Len(t, private.Fields, 4)

	public := record.pubEmbed()
	for _, field := range public.Fields {
		assert.NotEqual(t, "Stack", field.Name)
	}

	raw := record.rawText()
	assert.Contains(t, raw, "permission denied")
	assert.Contains(t, raw, "goroutine 1")
	assert.LessOrEqual(t, len(raw), discordMaxMessageLength)
}

func TestParseWebhookURL(t *testing.T) {
	testCases := []struct {
		url       string
		id        string
		token     string
		expectErr bool
	}{
		{
			url:   "https://discord.com/api/webhooks/12345/abcdef",
			id:    "12345",
			token: "abcdef",
		},
		{
			url:   "https://discord.com/api/webhooks/12345/abcdef/",
			id:    "12345",
			token: "abcdef",
		},
		{url: "nonsense", expectErr: true},
		{url: "", expectErr: true},
	}
	for _, tc := range testCases {
		t.Run(
			tc.url, func(t *testing.T) {
				id, token, err := parseWebhookURL(tc.url)
				if tc.expectErr {
					assert.Error(t, err)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tc.id, id)
				assert.Equal(t, tc.token, token)
			},
		)
	}
}
