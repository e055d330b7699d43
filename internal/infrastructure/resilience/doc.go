/*
Package resilience provides a circuit breaker for calls that leave the host.

# Overview

The widget host talks to two kinds of slow or flaky collaborators: remote
state stores and the endpoints reached through the network capability. Both
run through a Breaker so that a dead dependency fails fast instead of
stacking up retries behind every widget.

# Usage

	breaker := resilience.New("state-store", resilience.Settings{
		Timeout:     15 * time.Second,
		ReadyToTrip: resilience.ConsecutiveFailures(5),
	})

	err := breaker.Execute(ctx, func(ctx context.Context) error {
		return store.SetState(ctx, key, blob)
	})

	resp, err := resilience.Call(ctx, breaker, func(ctx context.Context) (*resty.Response, error) {
		return req.Get(url)
	})

Trip policies compose with Any:

	resilience.Any(resilience.ConsecutiveFailures(10), resilience.FailureRatio(20, 0.7))

# States

	Closed --[trip]-> Open --[timeout]-> Half-Open --[probe successes]-> Closed
	                                         |
	                                     [failure]
	                                         v
	                                       Open

Counts live in a window that resets on every transition and every Interval
while closed. A cancelled context is not a failure unless
Settings.IsSuccessful says otherwise.
*/
package resilience
