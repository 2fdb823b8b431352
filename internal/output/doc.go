// Package output formats command results for display or machine consumption.
//
// Two formats are supported:
//   - text: human-readable terminal output (default)
//   - json: the full structured [Report]
//
// Use [GetWriter] to obtain a [Writer] for a given format string, then call
// [Writer.Write] with an [io.Writer] and a [*Report]. [WriteReport] handles
// choosing between a file and stdout.
package output
