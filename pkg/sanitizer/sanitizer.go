package sanitizer

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultRowLimit is applied when a caller passes a non-positive limit.
const DefaultRowLimit = 50

// ErrRejectedQuery is returned for any query that fails the read-only checks.
var ErrRejectedQuery = errors.New("rejected query")

var (
	denyPattern  = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|truncate|create|grant|revoke)\b`)
	limitPattern = regexp.MustCompile(`(?i)\blimit(\s*\(\s*[^\s;()]*\s*\)|\s+[^\s;()]+)`)
)

// RejectedQueryError carries the reason a query was refused.
type RejectedQueryError struct {
	Query  string
	Reason string
}

func (e *RejectedQueryError) Error() string {
	return e.Reason
}

// Is makes errors.Is(err, ErrRejectedQuery) hold for every rejection.
func (e *RejectedQueryError) Is(target error) bool {
	return target == ErrRejectedQuery
}

// Sanitize validates raw as a read-only SELECT and caps its row count at rowLimit.
func Sanitize(raw string, rowLimit int) (string, error) {
	if rowLimit <= 0 {
		rowLimit = DefaultRowLimit
	}

	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimSuffix(cleaned, ";")
	cleaned = strings.TrimSpace(cleaned)

	if denyPattern.MatchString(cleaned) {
		return "", &RejectedQueryError{Query: raw, Reason: "Only read-only SELECT statements are allowed"}
	}
	if !strings.HasPrefix(strings.ToLower(cleaned), "select") {
		return "", &RejectedQueryError{Query: raw, Reason: "Only SELECT statements are allowed"}
	}

	replacement := fmt.Sprintf("LIMIT %d", rowLimit)

	matches := limitPattern.FindAllStringSubmatch(cleaned, -1)
	if len(matches) == 0 {
		// A new line keeps a trailing "--" comment from swallowing the clause.
		return cleaned + "\n" + replacement, nil
	}

	// Every LIMIT clause is checked, so a subquery cannot hide an oversized outer bound.
	rewrite := false
	for _, m := range matches {
		if !withinLimit(m[1], rowLimit) {
			rewrite = true
			break
		}
	}
	if !rewrite {
		return cleaned, nil
	}

	return limitPattern.ReplaceAllStringFunc(cleaned, func(clause string) string {
		sub := limitPattern.FindStringSubmatch(clause)
		if withinLimit(sub[1], rowLimit) {
			return clause
		}
		return replacement
	}), nil
}

// withinLimit parses a captured LIMIT operand, with or without parentheses.
func withinLimit(operand string, rowLimit int) bool {
	operand = strings.TrimSpace(operand)
	if strings.HasPrefix(operand, "(") {
		operand = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(operand, "("), ")"))
	}
	n, err := strconv.Atoi(operand)
	return err == nil && n >= 0 && n <= rowLimit
}

// IsRejected reports whether err is a sanitizer rejection.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejectedQuery)
}
