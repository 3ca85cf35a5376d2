package validate

import (
	"html"
	"math"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	MaxTitle       = 100
	MaxDescription = 1000
	MaxFlagText    = 500
	MaxReason      = 500
	MaxAppealText  = 2000
	MinImages      = 1
	MaxImages      = 9
	MaxBanDays     = 3650
)

var (
	reEmail = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	reQ     = regexp.MustCompile(`^[\p{L}\p{N} _'\-]{1,50}$`)
	reID    = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

	strict = bluemonday.StrictPolicy()
)

func Email(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) == 0 || len(s) > 50 {
		return "", false
	}
	return s, reEmail.MatchString(s)
}

// Q validates a search query: trims, enforces allowed characters and max length
func Q(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if utf8.RuneCountInString(s) > 50 {
		s = string([]rune(s)[:50])
	}
	return s, reQ.MatchString(s)
}

// ID validates a simple resource identifier (listing/category/user ids).
func ID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != "" && reID.MatchString(s)
}

// Title is required and at most MaxTitle characters.
func Title(s string) (string, bool) {
	s = strings.TrimSpace(s)
	n := utf8.RuneCountInString(s)
	return s, n > 0 && n <= MaxTitle
}

// Text trims s and checks it fits in max characters. Empty is allowed.
func Text(s string, max int) (string, bool) {
	s = strings.TrimSpace(s)
	return s, utf8.RuneCountInString(s) <= max
}

// Description strips any markup from a listing description, then applies Text.
func Description(s string) (string, bool) {
	return Text(html.UnescapeString(strict.Sanitize(s)), MaxDescription)
}

// Required is Text that must also be non-empty.
func Required(s string, max int) (string, bool) {
	s, ok := Text(s, max)
	return s, ok && s != ""
}

// Price accepts positive amounts with at most two decimals.
func Price(p float64) bool {
	if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
		return false
	}
	cents := p * 100
	return math.Abs(cents-math.Round(cents)) < 1e-6
}

// Images checks the count and that each entry is an absolute http(s) URL.
func Images(urls []string) ([]string, bool) {
	if len(urls) < MinImages || len(urls) > MaxImages {
		return nil, false
	}
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, false
		}
		out = append(out, raw)
	}
	return out, true
}

// Password enforces a simple length window for login checks.
func Password(s string) bool {
	l := len(s)
	if l < 8 || l > 20 {
		return false
	}
	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range s {
		switch {
		case 'a' <= r && r <= 'z':
			hasLower = true
		case 'A' <= r && r <= 'Z':
			hasUpper = true
		case '0' <= r && r <= '9':
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	return hasLower && hasUpper && hasDigit && hasSymbol
}
