package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/deskpet/internal/profile"
	"github.com/hrygo/deskpet/store"
)

func TestServerStartShutdown(t *testing.T) {
	ctx := context.Background()
	instanceProfile := &profile.Profile{Mode: "demo", Version: "test"} // port 0 picks a free one
	st := store.New(store.NewMemoryKV(), instanceProfile)

	s, err := NewServer(ctx, instanceProfile, st)
	require.NoError(t, err)

	require.NoError(t, s.Start(ctx))
	assert.True(t, s.Worker.IsRunning())

	// Wait for the listener to bind so Shutdown drains a live server and
	// Wait joins a finished listener goroutine rather than racing its start.
	require.Eventually(t, func() bool {
		return s.echoServer.ListenerAddr() != nil
	}, 5*time.Second, 10*time.Millisecond)

	s.Shutdown(ctx)
	assert.False(t, s.Worker.IsRunning())
	require.NoError(t, s.group.Wait())
}
