// Package enums holds the closed string sets stored in the slot and outbox
// tables.
package enums

import (
	"fmt"
	"slices"
)

func parse[T ~string](raw string, kind string, set []T) (T, error) {
	if v := T(raw); slices.Contains(set, v) {
		return v, nil
	}
	return "", fmt.Errorf("invalid %s %q", kind, raw)
}
