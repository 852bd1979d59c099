// Package interpose is the Go-native replacement for libc symbol
// interposition: instead of shadowing open/fopen/close/fclose at the
// dynamic-loader level, it exposes Open/Create/Close functions applications
// call directly, backed by an explicit real-function table bound at package
// init to the stdlib os package. The table entries are plain variables, so
// a test can swap them to simulate real I/O failure.
package interpose

import "os"

// RealOpenFile, RealClose, RealMkdirAll, and RealStat are the "next symbol
// in the dynamic loader chain" a libc interposer would call through to,
// reified here as ordinary function variables bound once to os's own
// functions and swappable by tests.
var (
	RealOpenFile = os.OpenFile
	RealClose    = func(f *os.File) error { return f.Close() }
	RealMkdirAll = os.MkdirAll
	RealStat     = os.Stat
)
