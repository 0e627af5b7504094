package profile

import (
	"fmt"
	"strings"
)

// CacheStrategy controls how the loader uses the local document cache.
type CacheStrategy string

// Supported cache strategies.
const (
	CacheNever   CacheStrategy = "never"
	CacheIfFresh CacheStrategy = "if-fresh"
	CacheIfExist CacheStrategy = "if-exists"
	CacheOnly    CacheStrategy = "cache-only"
)

// DefaultCacheStrategy applies when a profile has no usable strategy.
const DefaultCacheStrategy = CacheIfExist

// legacy numeric codes written by older profile stores.
var cacheStrategyCodes = map[string]CacheStrategy{
	"0": CacheNever,
	"1": CacheIfFresh,
	"2": CacheIfExist,
	"3": CacheOnly,
}

// ParseCacheStrategy accepts a strategy name (case-insensitive) or a legacy numeric code.
func ParseCacheStrategy(raw string) (CacheStrategy, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if cs, ok := cacheStrategyCodes[value]; ok {
		return cs, nil
	}
	cs := CacheStrategy(value)
	if !cs.Valid() {
		return DefaultCacheStrategy, fmt.Errorf("unknown cache strategy %q", raw)
	}
	return cs, nil
}

// Valid reports whether c is a known strategy.
func (c CacheStrategy) Valid() bool {
	switch c {
	case CacheNever, CacheIfFresh, CacheIfExist, CacheOnly:
		return true
	default:
		return false
	}
}

func (c CacheStrategy) String() string {
	return string(c)
}
