// Package logging builds the structured logger used by the command line
// tool. Records go to stderr through a tint handler; library packages accept
// a *slog.Logger and never construct their own.
package logging
