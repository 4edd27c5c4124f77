// Package bus provides an in-process publish/subscribe event bus.
//
// Handlers subscribe to an event [Kind]. [Bus.Emit] runs every handler for the
// event's kind and returns when all of them settled. Emissions are totally
// ordered: an Emit issued while another one is in flight (typically from
// inside a handler) is queued and drained by the in-flight emitter afterwards,
// which keeps cascades of events from recursing.
//
//	b := bus.New(bus.Options{Log: log})
//	unsubscribe := bus.On(b, func(ctx context.Context, ev TransactionCreated) error {
//	    return nil
//	}, bus.WithName("balances"))
//	defer unsubscribe()
//
//	b.Emit(ctx, TransactionCreated{...})
//
// A failing or panicking handler is logged with the event kind and handler
// name; other handlers and queued events are not affected.
package bus
