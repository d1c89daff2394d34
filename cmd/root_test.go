package cmd

import (
	"log/slog"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLogLevel(t *testing.T) {
	testCases := []struct {
		input     string
		expected  slog.Level
		expectErr bool
	}{
		{input: "DEBUG", expected: slog.LevelDebug},
		{input: "INFO", expected: slog.LevelInfo},
		{input: "WARN", expected: slog.LevelWarn},
		{input: "ERROR", expected: slog.LevelError},
		{input: "bogus", expectErr: true},
	}
	for _, tc := range testCases {
		t.Run(
			tc.input, func(t *testing.T) {
				level, err := getLogLevel(tc.input)
				if tc.expectErr {
					assert.Error(t, err)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tc.expected, level)
			},
		)
	}
}

func TestLevelToStringHookFunc(t *testing.T) {
	hook := LevelToStringHookFunc()

	levelVar := &slog.LevelVar{}
	result, err := hook(
		reflect.TypeOf(""),
		reflect.TypeOf(levelVar),
		"WARN",
	)
	require.NoError(t, err)

	converted, ok := result.(*slog.LevelVar)
	require.True(t, ok)
	assert.Equal(t, slog.LevelWarn, converted.Level())

	// non-level targets pass through untouched
	result, err = hook(
		reflect.TypeOf(""),
		reflect.TypeOf(&struct{}{}),
		"WARN",
	)
	require.NoError(t, err)
	assert.Equal(t, "WARN", result)
}

func TestLevelStringToLevelVar(t *testing.T) {
	level, err := levelStringToLevelVar("ERROR")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelError, level.Level())

	_, err = levelStringToLevelVar("nope")
	assert.Error(t, err)
}
