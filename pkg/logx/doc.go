// Package logx configures scorewatch's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured, one file per calendar day
//   - A separate error journal for full failure traces
package logx
