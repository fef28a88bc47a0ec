package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/lamcatuk/vy-numbers/pkg/errors"
)

// maxListItems bounds comma-separated query lists such as ?cart=.
const maxListItems = 100

// ParseQueryInt reads an optional integer query parameter within [min, max].
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, key+" must be a whole number").
			WithDetails(map[string]any{"field": key})
	}
	if value < min || value > max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, key+" is out of range").
			WithDetails(map[string]any{"field": key, "min": min, "max": max})
	}
	return value, nil
}

// ParseQueryList splits a comma-separated query parameter, dropping blanks.
// Entries are returned as sent; callers normalize them.
func ParseQueryList(r *http.Request, key string) ([]string, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) > maxListItems {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, key+" lists too many numbers").
			WithDetails(map[string]any{"field": key, "max": maxListItems})
	}
	return out, nil
}
