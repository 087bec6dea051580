// Package logx configures slackriver's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Output reconfigurable at runtime through Service.Apply
package logx
