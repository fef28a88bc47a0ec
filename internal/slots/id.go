package slots

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	pkgerrors "github.com/lamcatuk/vy-numbers/pkg/errors"
)

const (
	IDWidth = 4
	MinID   = 1
	MaxID   = 9999
)

// Range bounds the sellable id space. Both ends are inclusive.
type Range struct {
	Min int
	Max int
}

// DefaultRange is the full 0001-9999 space.
func DefaultRange() Range {
	return Range{Min: MinID, Max: MaxID}
}

// Validate reports whether the range fits inside the 4-digit space.
func (r Range) Validate() error {
	if r.Min < MinID || r.Max > MaxID || r.Min > r.Max {
		return pkgerrors.New(pkgerrors.CodeConfiguration, fmt.Sprintf("number range %d-%d is outside %d-%d", r.Min, r.Max, MinID, MaxID))
	}
	return nil
}

// Contains reports whether n is inside the range.
func (r Range) Contains(n int) bool {
	return n >= r.Min && n <= r.Max
}

// OutOfRangeMessage is the user-facing text for ids that fail ParseID.
func (r Range) OutOfRangeMessage() string {
	return fmt.Sprintf("Number must be between %s and %s.", FormatID(r.Min), FormatID(r.Max))
}

// FormatID renders n as a zero-padded id.
func FormatID(n int) string {
	return fmt.Sprintf("%0*d", IDWidth, n)
}

// ParseID accepts exactly four ASCII digits inside r and nothing else, not
// even surrounding whitespace. No storage access happens here.
func ParseID(id string, r Range) (string, error) {
	if len(id) != IDWidth {
		return "", invalidID(r)
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return "", invalidID(r)
		}
	}
	n, err := strconv.Atoi(id)
	if err != nil || !r.Contains(n) {
		return "", invalidID(r)
	}
	return id, nil
}

// NormalizeID is the lenient admin variant: 1-4 digits, zero padded.
func NormalizeID(raw string, r Range) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > IDWidth {
		return "", invalidID(r)
	}
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] < '0' || trimmed[i] > '9' {
			return "", invalidID(r)
		}
	}
	padded := strings.Repeat("0", IDWidth-len(trimmed)) + trimmed
	return ParseID(padded, r)
}

var idListSeparators = regexp.MustCompile(`[\s,;]+`)

// ParseIDList splits an admin text blob on whitespace, commas and semicolons.
// Valid ids are normalized and de-duplicated in input order; anything that
// does not normalize is returned verbatim in invalid.
func ParseIDList(blob string, r Range) (valid []string, invalid []string) {
	seen := make(map[string]struct{})
	for _, token := range idListSeparators.Split(strings.TrimSpace(blob), -1) {
		if token == "" {
			continue
		}
		id, err := NormalizeID(token, r)
		if err != nil {
			invalid = append(invalid, token)
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		valid = append(valid, id)
	}
	return valid, invalid
}

// SortedIDs returns a sorted copy of ids. Used for cache fingerprints.
func SortedIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}

func invalidID(r Range) error {
	return pkgerrors.New(pkgerrors.CodeValidation, r.OutOfRangeMessage())
}
