package gxgbot

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPossessive(t *testing.T) {
	testCases := []struct {
		name     string
		expected string
	}{
		{name: "Luke", expected: "Luke's"},
		{name: "James", expected: "James'"},
		{name: "CHRIS", expected: "CHRIS'"},
		{name: "Anna", expected: "Anna's"},
	}
	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.Equal(t, tc.expected, possessive(tc.name))
			},
		)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abc", truncate("abcdef", 3))
	assert.Equal(t, "", truncate("abc", 0))
	// rune-aware, not byte-aware
	assert.Equal(t, "héll", truncate("héllo", 4))
}

func TestParseUserMention(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{input: "<@123456>", expected: "123456"},
		{input: "<@!123456>", expected: "123456"},
		{input: "123456", expected: "123456"},
		{input: "not-an-id", expected: ""},
		{input: "<@>", expected: ""},
		{input: "", expected: ""},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, parseUserMention(tc.input), tc.input)
	}
}

func TestContextLogger(t *testing.T) {
	logger := slog.Default().With("test", "value")
	ctx := WithLogger(context.Background(), logger)
	assert.Equal(t, logger, ContextLogger(ctx))
	assert.Equal(t, slog.Default(), ContextLogger(context.Background()))
}

func TestGenerateRandomHexString(t *testing.T) {
	first, err := generateRandomHexString(16)
	require.NoError(t, err)
	assert.Len(t, first, 32)

	second, err := generateRandomHexString(16)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestStructToSlogValueRedaction(t *testing.T) {
	type inner struct {
		Token string `log:"[redacted]"`
		Name  string `json:"name"`
	}
	type outer struct {
		Inner  inner
		Hidden string `log:"-"`
		Plain  int
	}

	value := structToSlogValue(
		outer{
			Inner:  inner{Token: "secret token", Name: "visible"},
			Hidden: "invisible",
			Plain:  42,
		},
	)
	rendered := value.String()
	assert.NotContains(t, rendered, "secret token")
	assert.NotContains(t, rendered, "invisible")
	assert.Contains(t, rendered, "visible")
	assert.Contains(t, rendered, "[redacted]")
	assert.Contains(t, rendered, "42")
}

func TestMemberDisplayName(t *testing.T) {
	assert.Equal(t, "Unknown", memberDisplayName(nil))
}

func TestTruncateLongString(t *testing.T) {
	long := strings.Repeat("x", 5000)
	assert.Len(t, truncate(long, discordMaxMessageLength), discordMaxMessageLength)
}
