package es

import (
	"context"
	"fmt"
)

// ReplayStream decodes every stored event of the stream aggType/aggID in
// version order and hands it to fn. Unregistered event types are passed as
// UnknownEvent. It stops at the first error returned by fn.
func ReplayStream(
	ctx context.Context,
	store EventStore,
	registry *TypeRegistry,
	aggType string,
	aggID string,
	fn func(env Envelope, event any) error,
	opts ...StoreLoadOption,
) error {
	envs, err := store.Load(ctx, aggType, aggID, opts...)
	if err != nil {
		return fmt.Errorf("load %s/%s: %w", aggType, aggID, err)
	}
	from := max(NewStoreLoadOptions(opts...).StartVersion, 1)
	if err := CheckHistory(aggID, from, envs); err != nil {
		return err
	}
	for _, env := range envs {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := registry.DecodeEnvelope(env)
		if err != nil {
			return fmt.Errorf("%s/%s version %d: %w", aggType, aggID, env.Version, err)
		}
		if err := fn(env, ev); err != nil {
			return err
		}
	}
	return nil
}
