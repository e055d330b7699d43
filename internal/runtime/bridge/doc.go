/*
Package bridge is the only path between isolated widget contexts and the
host.

Every context is registered with a Handle before any of its messages are
trusted. The Handle is created by the sandbox host and stamped onto each
outgoing message by the trusted shim inside the context, never by widget
code, so pointer identity of the Handle is the sender's credential. The
origin string is stamped the same way and checked against an allow-list.

Inbound messages are validated in a fixed order: origin, registered
instance, exact handle, rate, size, then decoding and classification.
Failures are reported to the host as a ValidationError for logging and
metrics; nothing is ever sent back to the sender.

Run drains the inbound queue on a single goroutine, which is the host
control loop for widget-originated traffic.
*/
package bridge
