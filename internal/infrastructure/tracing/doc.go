/*
Package tracing provides lightweight request tracing for the widget host.

Spans cover the two places where work crosses a trust or process boundary:
editor API requests (HTTPMiddleware) and widget capability calls (started
by the canvas around every gate request). Trace context travels in the
request context and is injected into outgoing host-operation requests, so
a network.fetch issued by a widget carries the X-Trace-ID of the call that
caused it.

# Usage

	tracer := tracing.New("widgethost", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "capability network.fetch")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

# Trace Format

- X-Trace-ID: identifier for the entire request flow
- X-Span-ID: identifier for the current operation

Completed spans are logged through zap from a buffered collector; a full
buffer drops spans rather than slowing the caller. The collector also keeps
the last RecentTraces traces in an LRU, which GET /traces/:id serves to the
editor. A nil *Tracer still propagates ids but records nothing.
*/
package tracing
