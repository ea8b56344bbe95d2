// Package topic implements topic-name and topic-filter validation and the
// wildcard trie used to match published topics against subscribed filters.
package topic

import (
	"errors"
	"strings"
)

var (
	ErrEmpty            = errors.New("topic: empty")
	ErrTooLong           = errors.New("topic: exceeds 65535 bytes")
	ErrNullByte          = errors.New("topic: contains NUL byte")
	ErrWildcardInName    = errors.New("topic: name must not contain wildcards")
	ErrBadMultiWildcard  = errors.New("topic: '#' must be the entire final level")
	ErrBadSingleWildcard = errors.New("topic: '+' must be an entire level")
	ErrBadShareFilter    = errors.New("topic: malformed $share filter")
)

const maxLength = 65535

// ValidateName checks the grammar of a topic name as used in PUBLISH: 1-65535
// bytes, no NUL, and no wildcard characters. It does not check that the name
// is well-formed UTF-8.
func ValidateName(name string) error {
	if len(name) == 0 {
		return ErrEmpty
	}
	if len(name) > maxLength {
		return ErrTooLong
	}
	if strings.IndexByte(name, 0) >= 0 {
		return ErrNullByte
	}
	if strings.ContainsAny(name, "+#") {
		return ErrWildcardInName
	}
	return nil
}

// ValidateFilter checks the grammar of a topic filter as used in
// SUBSCRIBE/UNSUBSCRIBE, including the $share/{group}/{filter} form.
func ValidateFilter(filter string) error {
	_, actual, _, err := SplitShare(filter)
	if err != nil {
		return err
	}
	return validatePlainFilter(actual)
}

func validatePlainFilter(filter string) error {
	if len(filter) == 0 {
		return ErrEmpty
	}
	if len(filter) > maxLength {
		return ErrTooLong
	}
	if strings.IndexByte(filter, 0) >= 0 {
		return ErrNullByte
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return ErrBadMultiWildcard
			}
		case strings.Contains(level, "#"):
			return ErrBadMultiWildcard
		case level == "+":
			// fine, entire level
		case strings.Contains(level, "+"):
			return ErrBadSingleWildcard
		}
	}
	return nil
}

// SplitShare parses a possibly-shared filter of the form
// "$share/{group}/{filter}". shared is false and group is "" for a plain
// filter. actual is always the non-shared filter to match against.
func SplitShare(filter string) (group string, actual string, shared bool, err error) {
	if !strings.HasPrefix(filter, "$share/") {
		return "", filter, false, nil
	}
	rest := filter[len("$share/"):]
	idx := strings.IndexByte(rest, '/')
	if idx <= 0 {
		return "", "", false, ErrBadShareFilter
	}
	group, actual = rest[:idx], rest[idx+1:]
	if group == "" || actual == "" || strings.ContainsAny(group, "+#") {
		return "", "", false, ErrBadShareFilter
	}
	if err := validatePlainFilter(actual); err != nil {
		return "", "", false, err
	}
	return group, actual, true, nil
}

// Matches reports whether topic name matches topic filter per the MQTT
// wildcard rules, including the $-prefix exclusion: a filter whose first
// level is a wildcard never matches a topic whose first level begins with
// '$', even though a filter with an explicit '$' first level may.
func Matches(filter, name string) bool {
	fLevels := strings.Split(filter, "/")
	nLevels := strings.Split(name, "/")

	if len(nLevels) > 0 && len(nLevels[0]) > 0 && nLevels[0][0] == '$' {
		if len(fLevels) > 0 && (fLevels[0] == "+" || fLevels[0] == "#") {
			return false
		}
	}

	i := 0
	for ; i < len(fLevels); i++ {
		switch fLevels[i] {
		case "#":
			return true
		case "+":
			if i >= len(nLevels) {
				return false
			}
		default:
			if i >= len(nLevels) || fLevels[i] != nLevels[i] {
				return false
			}
		}
	}
	return i == len(nLevels)
}
