/*
Package router extends Event Bus global scope across canvases that share
an origin.

Canvases join a Hub, the in-process equivalent of a broadcast channel:
a publish reaches every other joined port and never the publisher. Each
port queues inbound envelopes in a bounded inbox drained by its own
goroutine, so a publisher never runs another canvas's handlers and never
waits for a slow one; an envelope that finds the inbox full is dropped and
counted. Each canvas owns a Node that stamps outbound envelopes and guards
inbound ones.

Outbound, a Node stamps a fresh envelope id, a visited set holding only
itself, hop count 0 and a TTL equal to the hop ceiling. Inbound, it rejects
an envelope whose visited set already names it, whose hop count reached
the ceiling, whose TTL is spent, which is older than MaxAge, or whose id it
has already seen. Otherwise it delivers locally, appends itself, increments
hops, decrements TTL and re-broadcasts. Forwarding therefore stops after at
most HopCeiling hops on any topology, cycles included, and every node
delivers a given envelope at most once.

Envelopes are JSON (version 1):

	{"v":1,"id":"env_...","source":{"canvas":"cnv_...","instance":"wgt_..."},
	 "target":"*","channel":"widgets","type":"ping","payload":{...},
	 "ts":1700000000000,"guard":{"visited":["cnv_..."],"hops":0,"ttl":10}}
*/
package router
