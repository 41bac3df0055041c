// Package mavlink implements the MAVLink wire format used by the
// connection layer: incremental extraction of complete frames from a raw
// TCP byte stream, and encoding of outbound messages.
//
// The package focuses on:
//   - Both wire versions (v1, magic 0xFE and v2, magic 0xFD) on the same
//     stream, including v2 payload truncation and signed-frame skipping
//   - X.25 checksum validation seeded with the per-message CRC_EXTRA byte
//     from a pluggable Dialect registry
//   - Per-channel parse statistics (Status) compatible with field-wise
//     summation across channels
//
// Key Components:
//
//   - Parser: Incremental stream parser. Feed it arbitrary byte ranges via
//     Push; it emits every complete, valid frame and keeps counters for
//     everything it had to drop.
//
//   - Dialect: CRC_EXTRA table. Frames whose message id is not registered
//     cannot be checksum-verified and are counted as dropped.
//
//   - Encoder: Outbound side; owns the per-channel tx sequence number.
//
//   - RawMessage: One decoded frame with all header fields and payload.
package mavlink
