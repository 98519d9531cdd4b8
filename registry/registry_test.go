package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/phantomrpc/registry"
)

type fakePacket struct{}
type fakeSession struct{}
type fakeResource struct{}

type otherSession struct{}

func TestRegisterPreservesInsertionOrder(t *testing.T) {
	registry.Reset()

	registry.Register[fakePacket, fakeSession, fakeResource]("GREET", "first")
	registry.Register[fakePacket, fakeSession, fakeResource]("GREET", "second")
	registry.Register[fakePacket, fakeSession, fakeResource]("GREET", "third")

	got := registry.Get[fakePacket, fakeSession, fakeResource]("GREET")
	require.Len(t, got, 3)
	assert.Equal(t, []any{"first", "second", "third"}, got)
}

func TestRegisterAllowsDuplicates(t *testing.T) {
	registry.Reset()

	registry.Register[fakePacket, fakeSession, fakeResource]("PING", "handler")
	registry.Register[fakePacket, fakeSession, fakeResource]("PING", "handler")

	got := registry.Get[fakePacket, fakeSession, fakeResource]("PING")
	assert.Len(t, got, 2)
}

func TestGetUnregisteredHeaderIsEmpty(t *testing.T) {
	registry.Reset()
	got := registry.Get[fakePacket, fakeSession, fakeResource]("NOPE")
	assert.Empty(t, got)
}

func TestDifferentTypeTriplesDoNotCollide(t *testing.T) {
	registry.Reset()

	registry.Register[fakePacket, fakeSession, fakeResource]("GREET", "A")
	registry.Register[fakePacket, otherSession, fakeResource]("GREET", "B")

	a := registry.Get[fakePacket, fakeSession, fakeResource]("GREET")
	b := registry.Get[fakePacket, otherSession, fakeResource]("GREET")

	assert.Equal(t, []any{"A"}, a)
	assert.Equal(t, []any{"B"}, b)
}

func TestGetReturnsIndependentSnapshot(t *testing.T) {
	registry.Reset()
	registry.Register[fakePacket, fakeSession, fakeResource]("EVENT", "one")

	snap := registry.Get[fakePacket, fakeSession, fakeResource]("EVENT")
	snap[0] = "mutated"

	again := registry.Get[fakePacket, fakeSession, fakeResource]("EVENT")
	assert.Equal(t, []any{"one"}, again)
}
