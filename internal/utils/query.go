// Package utils holds small helpers shared by the HTTP layer.
package utils

import (
	"strconv"
	"strings"
)

// AtoiDefault parses a query parameter as an int. Surrounding whitespace is
// ignored; an empty or unparsable value yields def. Range checks are left to
// the caller (see services.ClampLimit).
//
//	utils.AtoiDefault("25", 10)  // 25
//	utils.AtoiDefault(" 7 ", 10) // 7
//	utils.AtoiDefault("", 10)    // 10
func AtoiDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
