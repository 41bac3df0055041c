// Package tcp implements the MAVLink TCP transport: a client connection
// that owns one outbound socket, and a server connection that listens and
// presents all accepted peers as a single aggregated connection.
//
// The package focuses on:
//   - Asynchronous socket pumps driven by a per-connection io loop (one
//     goroutine on which every completion for that connection runs
//     serially); a server shares one loop between its acceptor and all
//     accepted clients
//   - A bounded outbound queue with synchronous overflow reporting as the
//     only backpressure signal
//   - Idempotent teardown that fires the closed callback exactly once,
//     regardless of whether close was explicit or caused by an I/O error
//
// Key Components:
//
//   - ClientConnection: One TCP socket with receive/send pumps, created by
//     NewClient (outbound) or internally by a server accept.
//
//   - ServerConnection: Listener plus a dynamic client set; broadcasts
//     sends and aggregates statistics over the clients connected at call
//     time.
package tcp
