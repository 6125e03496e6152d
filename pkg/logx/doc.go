// Package logx configures linkpulse's structured logging.
//
// The package wraps zerolog behind a small Field-based API and can emit logs
// to multiple sinks:
//   - Console (human-friendly pretty output)
//   - File (JSON)
//
// Debug and trace lines are rate-limited before they reach any sink: the
// sampling pollers log every tick, and an uncapped debug stream makes the
// file sink useless in practice.
package logx
