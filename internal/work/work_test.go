package work

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func TestRunner_RunsSubmittedTask(t *testing.T) {
	r := NewRunner(testLogger())
	r.Start()
	defer r.Stop()

	done := make(chan struct{})
	ok := r.Submit(Task{Name: "refresh", Run: func(ctx context.Context) error {
		close(done)
		return nil
	}})
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
}

func TestRunner_RejectsDuplicateName(t *testing.T) {
	r := NewRunner(testLogger())
	r.Start()
	defer r.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, r.Submit(Task{Name: "slow", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	assert.False(t, r.Submit(Task{Name: "slow", Run: func(ctx context.Context) error { return nil }}))
	assert.True(t, r.Busy("slow"))
	close(release)
}

func TestRunner_NameFreesAfterCompletion(t *testing.T) {
	r := NewRunner(testLogger())
	r.Start()
	defer r.Stop()

	first := make(chan struct{})
	require.True(t, r.Submit(Task{Name: "job", Run: func(ctx context.Context) error {
		close(first)
		return nil
	}}))
	<-first

	// the inflight marker clears after Run returns
	require.Eventually(t, func() bool {
		return !r.Busy("job")
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, r.Submit(Task{Name: "job", Run: func(ctx context.Context) error { return nil }}))
}
