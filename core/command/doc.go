// Package command routes commands to their handlers.
//
// A handler is bound to exactly one command type:
//
//	reg := command.NewRegistry(
//	    command.BindContext[OpenAccount](command.ContextHandlerFunc[OpenAccount](h.Open)),
//	    command.Bind[Ping](command.HandlerFunc[Ping](h.Ping)),
//	)
//	p := command.NewProcessor(reg.Resolve)
//	err := p.Send(ctx, OpenAccount{Owner: "ada"})
//
// The processor asks the resolver once per command type and keeps the
// resulting Binding, so steady-state dispatch is a map lookup and a call.
//
// Handlers bound with Bind do not observe cancellation. Sending to them with
// a cancellable context fails with ErrCancellationNotSupported; pass
// context.Background() or context.WithoutCancel(ctx) instead.
package command
