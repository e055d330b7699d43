// Package ws streams canvas bus traffic to the editor over WebSocket.
//
// Each connection observes every canvas and global event on one canvas,
// host notices included, and receives them as StreamMessage frames. A slow
// reader never stalls the bus: frames that do not fit the connection's
// buffer are dropped and counted. When the canvas is closed the stream
// writes what it still holds and ends with a going-away close frame.
//
// Client messages:
//   - {"type": "ping"}   answered with {"type": "pong"}
//
// Server messages:
//   - system: sent once on connect, message carries the connection id
//   - event:  one bus event (event, payload, scope, timestamp)
//   - error:  a client message could not be handled
package ws
