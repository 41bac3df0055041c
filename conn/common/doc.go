// Package common provides the shared plumbing for all connection
// implementations: logging, configuration, error types and endpoint
// resolution.
//
// The package focuses on:
//   - A single logging facade (dragonboat's logger interface) with a
//     custom formatter, shared by every package in this module
//   - One Config struct covering queue/buffer sizing and TCP socket knobs
//   - The error taxonomy of the transport layer (setup errors, capacity
//     errors) as inspectable Go errors
//   - Name resolution with the first-candidate-wins contract
package common
