package model

// RunMode selects how the enrichment driver treats cache misses.
type RunMode string

const (
	// ModeCacheOnly never calls the external geocoder.
	ModeCacheOnly RunMode = "cache_only"
	// ModeLimited calls the external geocoder for up to Quota new addresses.
	ModeLimited RunMode = "limited"
	// ModeAll calls the external geocoder for every uncached address.
	ModeAll RunMode = "all"
)

// ParseRunMode maps a configuration string to a RunMode. The second return
// is false for unrecognized values; callers fall back to ModeLimited.
func ParseRunMode(s string) (RunMode, bool) {
	switch RunMode(s) {
	case ModeCacheOnly, ModeLimited, ModeAll:
		return RunMode(s), true
	default:
		return ModeLimited, false
	}
}

// RunPolicy is the per-run external-call policy. It is constructed once at
// process entry and passed by value into the enrichment driver; nothing in
// the pipeline reads mode or quota from ambient state.
type RunPolicy struct {
	Mode  RunMode
	Quota int // new external calls permitted this run; only used by ModeLimited
}

// AllowCall reports whether another external geocode call is permitted given
// the number already made this run.
func (p RunPolicy) AllowCall(callsMade int) bool {
	switch p.Mode {
	case ModeCacheOnly:
		return false
	case ModeLimited:
		return callsMade < p.Quota
	case ModeAll:
		return true
	default:
		return false
	}
}
