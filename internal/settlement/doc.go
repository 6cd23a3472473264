// Package settlement tracks submitted transactions until they reach a
// terminal status. Each hash gets its own polling goroutine with a fixed
// interval and attempt budget; terminal outcomes are written back to the
// history store and announced through a callback.
package settlement
