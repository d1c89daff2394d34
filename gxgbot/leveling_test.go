package gxgbot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXPThreshold(t *testing.T) {
	testCases := []struct {
		level    int
		expected int
	}{
		{level: 0, expected: 100},
		{level: 1, expected: 155},
		{level: 2, expected: 220},
		{level: 5, expected: 475},
		{level: 10, expected: 1100},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, xpThreshold(tc.level))
	}
}

func TestMemberProgressTotalXP(t *testing.T) {
	assert.Equal(t, 40, MemberProgress{Level: 0, OverflowXP: 40}.TotalXP())
	assert.Equal(t, 195, MemberProgress{Level: 1, OverflowXP: 95}.TotalXP())
	assert.Equal(t, 275, MemberProgress{Level: 2, OverflowXP: 20}.TotalXP())
}

func TestProcessMessageCreatesRecord(t *testing.T) {
	ctx := context.Background()
	lm := newTestLevelManager(t)
	lm.xpGain = func() int { return 10 }

	result, err := lm.ProcessMessage(ctx, "user-1", "chan-1", "guild-1", time.Now())
	require.NoError(t, err)
	assert.False(t, result.OnCooldown)
	assert.Equal(t, 10, result.Gained)
	assert.False(t, result.LeveledUp)

	progress, err := lm.FetchUser(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, progress)
	assert.Equal(t, 0, progress.Level)
	assert.Equal(t, 10, progress.OverflowXP)
	assert.Equal(t, int64(1), progress.Messages)
	assert.Equal(t, 1.0, progress.Modifier)
}

func TestProcessMessageLevelUp(t *testing.T) {
	ctx := context.Background()
	lm := newTestLevelManager(t)
	lm.xpGain = func() int { return 15 }

	_, err := lm.db.Create(
		ctx,
		&MemberProgress{ID: "user-1", Level: 0, OverflowXP: 90, Modifier: 1.0},
	)
	require.NoError(t, err)

	result, err := lm.ProcessMessage(ctx, "user-1", "chan-1", "guild-1", time.Now())
	require.NoError(t, err)
	assert.True(t, result.LeveledUp)
	assert.Equal(t, 1, result.NewLevel)

	progress, err := lm.FetchUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Level)
	assert.Equal(t, 95, progress.OverflowXP)
}

func TestProcessMessageAtMostOneLevel(t *testing.T) {
	ctx := context.Background()
	lm := newTestLevelManager(t)
	lm.xpGain = func() int { return 1000 }

	result, err := lm.ProcessMessage(ctx, "user-1", "chan-1", "guild-1", time.Now())
	require.NoError(t, err)
	assert.True(t, result.LeveledUp)
	assert.Equal(t, 1, result.NewLevel)

	progress, err := lm.FetchUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Level)
	assert.Equal(t, 900, progress.OverflowXP)
}

func TestProcessMessageCooldown(t *testing.T) {
	ctx := context.Background()
	lm := newTestLevelManager(t)
	lm.xpGain = func() int { return 10 }

	now := time.Now()
	_, err := lm.db.Create(
		ctx, &MemberProgress{
			ID:         "user-1",
			OverflowXP: 50,
			Modifier:   1.0,
			LastGained: now.Add(-10 * time.Second).Unix(),
			Messages:   3,
		},
	)
	require.NoError(t, err)

	result, err := lm.ProcessMessage(ctx, "user-1", "chan-1", "guild-1", now)
	require.NoError(t, err)
	assert.True(t, result.OnCooldown)
	assert.Zero(t, result.Gained)

	progress, err := lm.FetchUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 50, progress.OverflowXP)
	assert.Equal(t, int64(4), progress.Messages)
}

func TestProcessMessageCooldownExpired(t *testing.T) {
	ctx := context.Background()
	lm := newTestLevelManager(t)
	lm.xpGain = func() int { return 10 }

	now := time.Now()
	_, err := lm.db.Create(
		ctx, &MemberProgress{
			ID:         "user-1",
			Modifier:   1.0,
			LastGained: now.Add(-61 * time.Second).Unix(),
		},
	)
	require.NoError(t, err)

	result, err := lm.ProcessMessage(ctx, "user-1", "chan-1", "guild-1", now)
	require.NoError(t, err)
	assert.False(t, result.OnCooldown)
	assert.Equal(t, 10, result.Gained)
}

func TestProcessMessageModifier(t *testing.T) {
	ctx := context.Background()
	lm := newTestLevelManager(t)
	lm.xpGain = func() int { return 15 }

	require.NoError(t, lm.SetModifier(ctx, "user-1", 1.5))

	result, err := lm.ProcessMessage(ctx, "user-1", "chan-1", "guild-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 23, result.Gained)
}

func TestProcessMessageBlockedUser(t *testing.T) {
	ctx := context.Background()
	lm := newTestLevelManager(t)
	require.NoError(t, lm.AddBlock(ctx, "user-1", BlockTypeUser, "owner-1"))

	result, err := lm.ProcessMessage(ctx, "user-1", "chan-1", "guild-1", time.Now())
	require.NoError(t, err)
	assert.Zero(t, result.Gained)
	assert.False(t, result.LeveledUp)

	// no record should have been created
	progress, err := lm.FetchUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, progress)
}

func TestProcessMessageBlockedChannel(t *testing.T) {
	ctx := context.Background()
	lm := newTestLevelManager(t)
	require.NoError(t, lm.AddBlock(ctx, "chan-1", BlockTypeChannel, "owner-1"))

	result, err := lm.ProcessMessage(ctx, "user-1", "chan-1", "guild-1", time.Now())
	require.NoError(t, err)
	assert.Zero(t, result.Gained)

	progress, err := lm.FetchUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, progress)
}

func TestRemoveBlock(t *testing.T) {
	ctx := context.Background()
	lm := newTestLevelManager(t)
	require.NoError(t, lm.AddBlock(ctx, "user-1", BlockTypeUser, "owner-1"))
	assert.True(t, lm.IsBlocked("user-1", ""))

	removed, err := lm.RemoveBlock(ctx, "user-1", BlockTypeUser)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, lm.IsBlocked("user-1", ""))

	removed, err = lm.RemoveBlock(ctx, "user-1", BlockTypeUser)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRefreshBlocklists(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	lm := NewLevelManager(db, nil, DefaultConfig().Leveling, nil)

	_, err := db.Create(
		ctx,
		&BlocklistEntry{ID: "user-1", Type: BlockTypeUser, AddedBy: "owner-1"},
	)
	require.NoError(t, err)
	_, err = db.Create(
		ctx,
		&BlocklistEntry{ID: "chan-1", Type: BlockTypeChannel, AddedBy: "owner-1"},
	)
	require.NoError(t, err)

	assert.False(t, lm.IsBlocked("user-1", ""))
	require.NoError(t, lm.Start(ctx))
	assert.True(t, lm.IsBlocked("user-1", ""))
	assert.True(t, lm.IsBlocked("", "chan-1"))
}

func TestProcessMessageConcurrentSameUser(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig().Leveling
	cfg.Cooldown = 0
	lm := NewLevelManager(newTestDB(t), nil, cfg, nil)
	lm.xpGain = func() int { return 1 }

	const workers = 10
	var wg sync.WaitGroup
	for n := 0; n < workers; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := lm.ProcessMessage(
				ctx, "user-1", "chan-1", "guild-1", time.Now(),
			)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	progress, err := lm.FetchUser(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, progress)
	// every message must be counted exactly once
	assert.Equal(t, int64(workers), progress.Messages)
	assert.Equal(t, workers, progress.OverflowXP)
}

func TestLevelUpEventEmitted(t *testing.T) {
	ctx := context.Background()
	events := NewEventBus(nil)
	lm := NewLevelManager(newTestDB(t), events, DefaultConfig().Leveling, nil)
	lm.xpGain = func() int { return 1000 }

	received := make(chan *LevelUpEvent, 1)
	events.Subscribe(
		EventLevelUp, func(_ context.Context, payload any) {
			event, ok := payload.(*LevelUpEvent)
			if ok {
				received <- event
			}
		},
	)

	_, err := lm.ProcessMessage(ctx, "user-1", "chan-1", "guild-1", time.Now())
	require.NoError(t, err)

	select {
	case event := <-received:
		assert.Equal(t, "user-1", event.UserID)
		assert.Equal(t, 1, event.NewLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for level-up event")
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	lm := newTestLevelManager(t)

	_, err := lm.db.Create(
		ctx, &MemberProgress{
			ID:         "user-1",
			Level:      5,
			OverflowXP: 42,
			Modifier:   1.0,
			LastGained: time.Now().Unix(),
			Messages:   100,
		},
	)
	require.NoError(t, err)

	require.NoError(t, lm.Reset(ctx, "user-1"))

	progress, err := lm.FetchUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, progress)

	// resetting a user with no record is not an error
	require.NoError(t, lm.Reset(ctx, "user-2"))
}

func TestRank(t *testing.T) {
	ctx := context.Background()
	lm := newTestLevelManager(t)

	seed := []MemberProgress{
		{ID: "user-1", Level: 5, OverflowXP: 10, Modifier: 1.0},
		{ID: "user-2", Level: 5, OverflowXP: 50, Modifier: 1.0},
		{ID: "user-3", Level: 2, OverflowXP: 0, Modifier: 1.0},
	}
	for n := range seed {
		_, err := lm.db.Create(ctx, &seed[n])
		require.NoError(t, err)
	}

	progress, err := lm.FetchUser(ctx, "user-1")
	require.NoError(t, err)
	position, err := lm.Rank(ctx, progress)
	require.NoError(t, err)
	assert.Equal(t, int64(2), position)

	progress, err = lm.FetchUser(ctx, "user-2")
	require.NoError(t, err)
	position, err = lm.Rank(ctx, progress)
	require.NoError(t, err)
	assert.Equal(t, int64(1), position)
}
