// Package vm implements the Lingo movie runtime.
//
// This package contains:
//   - Refcounted value arena and tagged datum model
//   - Cast library, script and instance structures
//   - Per-kind handler and property dispatch
//   - Flat-jump bytecode interpreter
//   - Movie clock, frame events and timeouts
//
// A Player owns all of the above. Players are not safe for concurrent
// use; wrap one in a Gate to share it across goroutines.
package vm
