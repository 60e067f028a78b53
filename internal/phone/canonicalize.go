// Package phone normalizes submitted phone numbers to E.164 before the
// verification engine sees them.
package phone

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/nyaruka/phonenumbers"
)

// ErrParse is returned when a submitted number cannot be parsed or is not a
// valid number for its region.
var ErrParse = errors.New("unable to parse phone number")

// Canonicalize parses raw with the given region hint and returns the E.164
// form. The region hint is only consulted for national-format input; numbers
// submitted with a leading + carry their own region.
func Canonicalize(raw, defaultRegion string) (string, error) {
	num, err := phonenumbers.Parse(raw, defaultRegion)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrParse, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("%w: not a valid number", ErrParse)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// MatchesPattern reports whether number matches the realm's configured
// pattern. An empty pattern accepts everything; a pattern that does not
// compile rejects everything.
func MatchesPattern(number, pattern string) bool {
	if pattern == "" {
		return true
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return false
	}
	return re.MatchString(number)
}
