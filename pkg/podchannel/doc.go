// Package podchannel implements the core of a transparent relay: it pairs an
// inbound network connection with an outbound one into a Channel, forwards
// opaque payloads between the two sides, and lets an ordered chain of
// middleware observe, transform or cut the flow at every lifecycle event.
//
// The package never touches a socket. All real I/O belongs to a host engine
// that the core reaches only through the HostIO and Connector interfaces;
// the host in turn reports readiness, data, closes and failures back through
// Engine.OnAccept and Engine.OnHostEvent. pkg/podnet provides host engines
// for plain TCP and WebSocket transports.
//
// The moving parts, bottom up:
//
//   - An Endpoint wraps one host connection handle (inbound or outbound) and
//     tracks its Connecting/Connected/Closing/Closed state.
//
//   - A Pipeline is the per-Channel, immutable-after-construction sequence of
//     middleware hook invocations. Connect and data hooks run in ascending
//     configured order; close and error hooks unwind in descending order, so
//     a middleware that wrapped a resource on connect releases it last.
//
//   - A Channel owns exactly one inbound and one outbound Endpoint and the
//     transport state machine between them (Pending, Established, HalfClosed,
//     Closed). Each Channel processes its events on a single goroutine in
//     strict arrival order; no two hooks for the same Channel ever run
//     concurrently.
//
//   - The Engine is the composition root: it accepts new inbound handles from
//     the host, routes and initiates the outbound connect, tracks every live
//     Channel, dispatches host events to the owning Channel, and owns the
//     engine-scoped ExtensionRegistry of named singleton services.
//
// A Channel's destruction always closes both endpoints it still holds open;
// neither a connection handle nor a buffered payload outlives its Channel.
package podchannel
