package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"automod/internal/site"
	"automod/internal/store"
)

func TestRunStopsOnCancel(t *testing.T) {
	client := newBotClient()
	client.moderated = []string{"golang"}

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	b := New(testConfig(), client, st, zap.NewNop())
	b.sleep = func(ctx context.Context, d time.Duration) {
		select {
		case <-ctx.Done():
		case <-time.After(time.Millisecond):
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	require.NoError(t, st.Close())
	goleak.VerifyNone(t)
}

func TestStartupRetriesLogin(t *testing.T) {
	client := newBotClient()
	client.loginErrs = []error{
		errors.New("connection refused"),
		errors.New("connection refused"),
	}
	client.moderated = []string{"golang"}
	b := newTestBot(t, client)

	require.NoError(t, b.startup(context.Background()))
	assert.Equal(t, 3, client.loginCnt)
	assert.True(t, b.moderated["golang"])
}

func TestStartupStopsRetryingOnCancel(t *testing.T) {
	client := newBotClient()
	client.loginErrs = []error{
		errors.New("down"), errors.New("down"), errors.New("down"),
		errors.New("down"), errors.New("down"), errors.New("down"),
	}
	b := newTestBot(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.startup(ctx), context.Canceled)
}

func TestRefreshCommunitiesSkipsUnmoderated(t *testing.T) {
	client := newBotClient()
	b := newTestBot(t, client)
	b.moderated["golang"] = true

	for _, name := range []string{"golang", "elsewhere"} {
		require.NoError(t, b.st.UpsertCommunity(&store.Community{
			Name:           name,
			Enabled:        true,
			ConditionsYAML: "body: [spam]\naction: remove\n",
		}))
	}

	require.NoError(t, b.refreshCommunities(true))
	assert.Len(t, b.comms, 1)
	assert.NotNil(t, b.comms["golang"])
}

func TestRefreshCommunitiesDropsRemoved(t *testing.T) {
	client := newBotClient()
	b := newTestBot(t, client)
	b.moderated["golang"] = true

	row := &store.Community{
		Name:           "golang",
		Enabled:        true,
		ConditionsYAML: "body: [spam]\naction: remove\n",
	}
	require.NoError(t, b.st.UpsertCommunity(row))
	require.NoError(t, b.refreshCommunities(true))
	require.NotNil(t, b.comms["golang"])

	row.Enabled = false
	require.NoError(t, b.st.UpsertCommunity(row))
	require.NoError(t, b.refreshCommunities(false))
	assert.Empty(t, b.comms)
}

func TestRefreshCommunitiesKeepsPreviousOnBrokenRules(t *testing.T) {
	client := newBotClient()
	b := newTestBot(t, client)
	b.moderated["golang"] = true

	row := &store.Community{
		Name:           "golang",
		Enabled:        true,
		ConditionsYAML: "body: [spam]\naction: remove\n",
	}
	require.NoError(t, b.st.UpsertCommunity(row))
	require.NoError(t, b.refreshCommunities(true))
	before := b.comms["golang"]
	require.NotNil(t, before)

	// A row that no longer parses keeps its previous compiled form.
	row.ConditionsYAML = "bogus_key: [x]\n"
	require.NoError(t, b.st.UpsertCommunity(row))
	require.NoError(t, b.refreshCommunities(true))
	assert.Same(t, before, b.comms["golang"])
	assert.NotEmpty(t, b.comms["golang"].Queues[site.QueueComment])
}
