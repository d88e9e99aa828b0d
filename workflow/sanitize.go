package workflow

import (
	"errors"
	"regexp"
	"strings"
)

// Sanitization errors surfaced as generation failures.
var (
	errPlaceholderSQL = errors.New("placeholder SQL")
	errCorruptedSQL   = errors.New("corrupted SQL")
)

var placeholderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\btable_name\b`),
	regexp.MustCompile(`(?i)\bcolumn_name\b`),
	regexp.MustCompile(`(?i)\bWHERE\s+condition\b`),
	regexp.MustCompile(`(?i)\byour_table\b`),
	regexp.MustCompile(`(?i)<[\w\s]+>`),
}

var (
	instructionRe = regexp.MustCompile(`(?i)^\s*(select the\b|select time bucket|choose a\b|here is\b|you (should|can)\b|first,)`)
	fenceLineRe   = regexp.MustCompile("(?s)```(?:sql)?\n?(.*?)```")
	escapeSeqRe   = regexp.MustCompile(`\\[ntr]`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// sanitizeSQL cleans model output into bare SQL: fences, wrapping quotes and
// escape sequences are stripped, whitespace collapsed. Placeholder-shaped
// and visibly corrupted statements are rejected outright.
func sanitizeSQL(raw string) (string, error) {
	cleaned := strings.TrimSpace(raw)

	if m := fenceLineRe.FindStringSubmatch(cleaned); m != nil {
		cleaned = m[1]
	}
	cleaned = strings.Trim(cleaned, "`\"' \n")
	cleaned = escapeSeqRe.ReplaceAllString(cleaned, " ")
	cleaned = whitespaceRe.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return "", errCorruptedSQL
	}
	for _, pattern := range placeholderPatterns {
		if pattern.MatchString(cleaned) {
			return "", errPlaceholderSQL
		}
	}
	if hasRepeatedGroup(cleaned) {
		return "", errCorruptedSQL
	}
	if instructionRe.MatchString(cleaned) {
		return "", errCorruptedSQL
	}
	if strings.Count(cleaned, `{`) != strings.Count(cleaned, `}`) {
		return "", errCorruptedSQL
	}
	if !balancedQuotes(cleaned) {
		return "", errCorruptedSQL
	}
	return cleaned, nil
}

// hasRepeatedGroup reports whether s contains the same 2-3 char group five
// or more times in a row, the degenerate looping output some models
// produce. Scanned by hand: RE2 has no backreferences.
func hasRepeatedGroup(s string) bool {
	for size := 2; size <= 3; size++ {
		for start := 0; start+5*size <= len(s); start++ {
			group := s[start : start+size]
			run := 1
			for next := start + size; next+size <= len(s) && s[next:next+size] == group; next += size {
				run++
			}
			if run >= 5 {
				return true
			}
		}
	}
	return false
}

func balancedQuotes(s string) bool {
	return strings.Count(s, "'")%2 == 0 && strings.Count(s, `"`)%2 == 0
}
