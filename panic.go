package blockfs

import "log"

// fatal reports an invariant violation (spec.md §7.3) through the single fatal-error
// path the kernel this is modeled on uses: log the condition, then halt. Unlike an
// ordinary error return, a fatal condition indicates a bug in this package or its
// caller, not a recoverable state, so it is never converted into an *error*.
func fatal(format string, args ...any) {
	log.Printf("blockfs: fatal: "+format, args...)
	panic("blockfs: fatal invariant violation, see log above")
}
