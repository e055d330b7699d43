/*
Package pipeline owns a canvas's edge set and routes output-port emissions
to the input ports they are wired to.

Ports become eligible for edges when their instance is registered. Edge
changes are validated against the registered ports and every rejection is
returned to the caller, which is the graph editor. Emissions never fail
loudly: a value emitted on a port with no edges simply goes nowhere.

Delivery follows edge registration order, is fire-and-forget, and isolates
each target so a failing dispatch does not affect the source or the other
targets. Several edges into one input port are last-write-wins.
*/
package pipeline
