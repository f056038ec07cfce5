package webhook

import (
	"regexp"
	"strings"
)

// Matches reports whether an event pattern matches eventType. A pattern is
// either an exact event type or a glob where `*` matches any run of
// characters ("bonus.*" matches "bonus.awarded").
func Matches(pattern, eventType string) bool {
	if pattern == eventType {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}
	re, err := compilePattern(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(eventType)
}

// compilePattern translates a restricted glob into an anchored regexp: every
// literal rune is quoted (dots included) and `*` becomes `.*`.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	segs := strings.Split(pattern, "*")
	for i, seg := range segs {
		segs[i] = regexp.QuoteMeta(seg)
	}
	return regexp.Compile("^" + strings.Join(segs, ".*") + "$")
}
