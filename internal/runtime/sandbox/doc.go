/*
Package sandbox owns one isolated JavaScript context per widget instance.

Each context is a goja runtime driven by its own goroutine through an
unbounded FIFO mailbox, so the host never waits for a widget to finish
handling anything. Contexts share no values with the host or with each
other: everything that crosses the boundary is serialized to JSON inside
the sending runtime and parsed again inside the receiving one.

The render payload is evaluated verbatim after a trusted shim has removed
module loading and process access, disabled timers, capped the call stack
and installed a frozen global "widget" API. The shim stamps every outgoing
message with the context's bridge handle and origin; widget code never
sees either.

Lifecycle:

	Created -> Loading -> Mounted -> Active <-> Inactive
	   any of the above -> Unmounted (terminal)

Widget API:

	widget.onMount(fn(context))         context = {instanceId, state, inputs}
	widget.onInput(port, fn(value))
	widget.onStateChange(fn(state))
	widget.onDestroy(fn())
	widget.onActivate(fn()) / widget.onDeactivate(fn())
	widget.emitOutput(port, value)
	widget.setState(partial)
	widget.on(event, fn(payload, meta), scope) -> unsubscribe
	widget.emit(event, payload, scope)
	widget.request(capability, args) -> Promise
	widget.log(...args)                 console.* is routed here too
	widget.deferReady() -> done         only while the payload is evaluating
	widget.instanceId

A context is ready once its payload has been evaluated. A payload that
calls widget.deferReady is ready only when it calls the returned function;
if that has not happened by the load deadline the load fails as not-ready.

Operations other than handler registration and logging throw until the
instance is mounted, and again after it is destroyed. Every callback runs
under an interrupt deadline; an exception or timeout inside one is logged
and never leaves the context.
*/
package sandbox
