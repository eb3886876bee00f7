package domain

import (
	"regexp"
	"strings"
	"time"
)

var (
	passportRe  = regexp.MustCompile(`^[A-Z]{2}[0-9]{7}$`)
	birthdateRe = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{4}$`) // dd.mm.yyyy
	clockRe     = regexp.MustCompile(`^\d{2}:\d{2}$`)         // HH:MM 24h
	identityRe  = regexp.MustCompile(`\d{5,}`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// NormalizePassport strips all whitespace and uppercases the input,
// so " ad 1234567 " becomes "AD1234567".
func NormalizePassport(s string) string {
	return spaceRe.ReplaceAllString(strings.ToUpper(s), "")
}

// ValidPassport reports whether s is two uppercase letters followed by
// seven digits. Callers normalize first.
func ValidPassport(s string) bool {
	return passportRe.MatchString(s)
}

// ValidBirthdate reports whether s is a calendar-valid dd.mm.yyyy date.
func ValidBirthdate(s string) bool {
	if !birthdateRe.MatchString(s) {
		return false
	}
	_, err := time.Parse("02.01.2006", s)
	return err == nil
}

// ParseClockTime parses a 24-hour HH:MM time of day into minutes since
// midnight. The bool is false for anything that is not a valid clock time.
func ParseClockTime(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if !clockRe.MatchString(s) {
		return 0, false
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// ExtractIdentity returns the first run of 5 or more digits in s, or ""
// when there is none. Handles values like "tg://user?id=123456789".
func ExtractIdentity(s string) string {
	return identityRe.FindString(s)
}

// IsIdentity reports whether s is a plausible chat identity:
// non-empty, digits only.
func IsIdentity(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
