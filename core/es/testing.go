package es

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/evbuf-go/core/es/validation"
)

// RequireApplied fails the test unless an apply succeeded, and returns the
// new aggregate.
func RequireApplied[A any](t testing.TB, res validation.Result[*A], err error) *A {
	t.Helper()
	require.NoError(t, err)
	require.Truef(t, res.IsValid(), "expected a valid result, got %v", res.Errors())
	return res.Value()
}

// RequireRejected fails the test unless an apply was rejected by
// validation, and returns the error messages.
func RequireRejected[A any](t testing.TB, res validation.Result[*A], err error) []validation.Message {
	t.Helper()
	require.NoError(t, err)
	require.False(t, res.IsValid(), "expected validation to fail")
	return res.Errors()
}

// SeedStream appends events to an empty stream, bypassing aggregates.
func SeedStream(
	t testing.TB,
	ctx context.Context,
	store EventStore,
	registry *TypeRegistry,
	aggType string,
	aggID string,
	events ...any,
) {
	t.Helper()
	_, err := AppendEvents(ctx, store, registry, aggType, aggID, 0, events...)
	require.NoError(t, err)
}
