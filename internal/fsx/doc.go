// Package fsx holds the small filesystem primitives the cache builds on:
// atomic file replacement, rename with typed errors, and directory sizing.
package fsx
