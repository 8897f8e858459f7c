package flight

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecondRunCancelsFirst(t *testing.T) {
	g := NewGroup()

	ctx1, release1 := g.Begin(context.Background(), "push/master", "run-1")
	defer release1()

	select {
	case <-ctx1.Done():
		t.Fatal("first run canceled before a second run arrived")
	default:
	}

	ctx2, release2 := g.Begin(context.Background(), "push/master", "run-2")
	defer release2()

	select {
	case <-ctx1.Done():
	case <-time.After(time.Second):
		t.Fatal("first run was not canceled by the second run on the same key")
	}

	select {
	case <-ctx2.Done():
		t.Fatal("second run must stay alive after superseding the first")
	default:
	}
}

func TestDistinctKeysDoNotInterfere(t *testing.T) {
	g := NewGroup()

	ctx1, release1 := g.Begin(context.Background(), "push/master", "run-1")
	defer release1()
	_, release2 := g.Begin(context.Background(), "manual/v3.1.0", "run-2")
	defer release2()

	select {
	case <-ctx1.Done():
		t.Fatal("run on a different key must not cancel an unrelated run")
	default:
	}

	assert.Equal(t, []string{"manual/v3.1.0", "push/master"}, g.Keys())
}

func TestReleaseClearsOnlyOwnEntry(t *testing.T) {
	g := NewGroup()

	_, release1 := g.Begin(context.Background(), "push/master", "run-1")
	_, release2 := g.Begin(context.Background(), "push/master", "run-2")

	// run-1 finishing late must not evict run-2's claim on the key.
	release1()
	inflight := g.InFlight()
	require.Equal(t, "run-2", inflight["push/master"])

	release2()
	assert.Empty(t, g.InFlight())
}

func TestBeginDerivesFromParent(t *testing.T) {
	g := NewGroup()
	parent, parentCancel := context.WithCancel(context.Background())

	ctx, release := g.Begin(parent, "pr/42", "run-1")
	defer release()

	parentCancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("run context must follow parent cancellation")
	}
}
