package validation

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

var (
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern    = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,}$`)
)

const passwordSpecials = "@$!%*#?&"

// Basic validators
func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v[field] = "required"
	}
}

func NonNegative(field string, val decimal.Decimal, v Violations) {
	if val.IsNegative() {
		v[field] = "must_not_be_negative"
	}
}

func Positive(field string, val int64, v Violations) {
	if val < 1 {
		v[field] = "must_be_positive"
	}
}

// Email records a violation unless value is a plausible address.
func Email(field, value string, v Violations) {
	if !IsEmail(value) {
		v[field] = "invalid_email"
	}
}

// Phone records a violation unless value is an E.164 number.
func Phone(field, value string, v Violations) {
	if !IsPhone(value) {
		v[field] = "invalid_phone"
	}
}

func Username(field, value string, v Violations) {
	if !usernamePattern.MatchString(value) {
		v[field] = "invalid_username"
	}
}

// Password requires at least 8 characters from letters, digits and
// @$!%*#?&, with at least one of each class.
func Password(field, value string, v Violations) {
	if !IsStrongPassword(value) {
		v[field] = "weak_password"
	}
}

func IsEmail(s string) bool { return emailPattern.MatchString(s) }

func IsPhone(s string) bool { return phonePattern.MatchString(s) }

func IsStrongPassword(s string) bool {
	if len(s) < 8 {
		return false
	}
	var letter, digit, special bool
	for _, r := range s {
		switch {
		case r < unicode.MaxASCII && unicode.IsLetter(r):
			letter = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		default:
			return false
		}
	}
	return letter && digit && special
}
