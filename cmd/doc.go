// Package cmd implements the command-line interface for htab. It provides a
// small command tree around the table engine, mainly to measure how a table
// configuration behaves under concurrent load.
//
// The package is organized into several subpackages:
//
//   - perf: Benchmarks a table configured via flags or HTAB_* environment variables
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See htab -help for a list of all commands.
package cmd
