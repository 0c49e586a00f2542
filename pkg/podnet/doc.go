// Package podnet is a concrete host I/O engine for podchannel, built on
// net.Conn streams.
//
// A Host owns one goroutine pair per connection: a read pump that turns
// stream reads into Data/Closed/Error events, delivered in order, and a
// write pump that makes Endpoint writes fire-and-forget. Closing a handle
// first flushes the queued writes, then closes the underlying transport;
// the Closed event is only delivered once the transport is really gone.
//
// Listeners feed the Host: TCPListener accepts raw TCP connections,
// WebsocketListener upgrades HTTP requests and relays binary websocket
// messages as opaque payloads. Outbound connections are dialed
// asynchronously; a failed dial surfaces as an Error event on the
// endpoint, never as a blocked caller.
package podnet
