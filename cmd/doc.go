// Package cmd implements the command-line interface of the mavconn MAVLink
// transport. It provides a small command hierarchy to run a TCP hub server
// and to drive a client connection for testing links.
//
// The package is organized into several subpackages:
//
//   - serve: Start a MAVLink TCP hub that aggregates any number of peers
//     and optionally exposes prometheus metrics
//   - send: Connect to a hub and emit heartbeats, reconnecting with
//     backoff when the link drops
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See mavconn -help for a list of all commands.
package cmd
