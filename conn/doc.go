// Package conn defines the interfaces and abstractions for MAVLink
// connections. It provides a common contract that all link implementations
// must fulfill, independent of the underlying transport.
//
// The package focuses on:
//   - Defining a clear interface for bidirectional MAVLink links
//   - Callback-based message delivery (no blocking reads)
//   - Per-connection I/O statistics that can be summed across links
//
// Key Components:
//
//   - Connection: Interface for a single MAVLink link (or an aggregated
//     server-side view over many links).
//
//   - ReceivedFunc / ClosedFunc: Callback types through which a connection
//     reports incoming messages and its own teardown.
//
//   - IOStat: Byte and throughput counters for one connection; values are
//     field-wise summable so a server can aggregate over its clients.
package conn
