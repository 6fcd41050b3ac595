// Package phone normalizes Mexican subscriber numbers to E.164.
// Calls are only placed to Mexican numbers; anything that does not normalize
// to +52 followed by 10 digits is rejected before a call is ever scheduled.
package phone

import (
	"regexp"
	"strings"
)

var mxE164 = regexp.MustCompile(`^\+52\d{10}$`)

// Normalize strips formatting characters and applies the +52 country code.
// A leading 1 (NANP trunk prefix users sometimes include) is dropped.
func Normalize(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if strings.HasPrefix(digits, "52") {
		return "+" + digits
	}
	if strings.HasPrefix(digits, "1") {
		digits = digits[1:]
	}
	return "+52" + digits
}

// IsValid reports whether raw normalizes to a valid Mexican E.164 number.
func IsValid(raw string) bool {
	return mxE164.MatchString(Normalize(raw))
}
