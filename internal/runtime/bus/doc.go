/*
Package bus is the in-process publish/subscribe layer of one canvas.

Subscriptions are keyed by event name and scope and carry an owner, the
instance that created them, so that unmounting an instance can revoke all
of its subscriptions at once. Emission is synchronous and follows
registration order; each handler runs under its own recover so one failing
handler never blocks the rest.

Scopes:

	instance  emission reaches only the emitting instance's subscriptions
	canvas    emission reaches canvas and global subscriptions of this canvas
	global    as canvas, then handed to the Forwarder for other canvases

Instance subscriptions hear only their owner's instance emissions, canvas
subscriptions hear canvas and global emissions, global subscriptions hear
only global emissions (local or remote). The event name "*" subscribes to
every event of the matching scopes.
*/
package bus
