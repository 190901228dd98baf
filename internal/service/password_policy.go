package service

import (
	"strings"
	"unicode"
)

// PasswordStrength buckets the final policy score.
type PasswordStrength string

const (
	StrengthVeryWeak   PasswordStrength = "VERY_WEAK"
	StrengthWeak       PasswordStrength = "WEAK"
	StrengthFair       PasswordStrength = "FAIR"
	StrengthGood       PasswordStrength = "GOOD"
	StrengthStrong     PasswordStrength = "STRONG"
	StrengthVeryStrong PasswordStrength = "VERY_STRONG"
)

// PasswordEvaluation is the result of scoring a candidate password.
type PasswordEvaluation struct {
	IsValid  bool             `json:"is_valid"`
	Errors   []string         `json:"errors,omitempty"`
	Score    int              `json:"score"`
	Strength PasswordStrength `json:"strength"`
}

const specialCharacters = "!@#$%^&*()-_=+[]{};:'\",.<>/?\\|`~"

// Widely used passwords rejected outright, including close variants.
var commonPasswords = []string{
	"password", "123456", "12345678", "123456789", "qwerty",
	"abc123", "letmein", "monkey", "dragon", "iloveyou",
	"admin", "welcome", "login", "master", "sunshine",
	"princess", "football", "baseball", "shadow", "superman",
	"batman", "trustno1", "hello", "freedom", "whatever",
	"starwars", "passw0rd", "zaq12wsx", "qazwsx", "password1",
}

var keyboardRows = []string{"qwertyuiop", "asdfghjkl", "zxcvbnm", "1234567890"}

// PasswordPolicy scores password strength and rejects weak or well-known
// passwords. It is a pure evaluator: no state, no external calls.
type PasswordPolicy struct{}

// NewPasswordPolicy returns the evaluator.
func NewPasswordPolicy() *PasswordPolicy {
	return &PasswordPolicy{}
}

// Evaluate scores the candidate and collects every policy violation. The
// score is informational; validity depends only on the error list being
// empty.
func (p *PasswordPolicy) Evaluate(password string) PasswordEvaluation {
	var errs []string
	score := 0

	switch {
	case len(password) >= 12:
		score += 25
	case len(password) >= 8:
		score += 15
	default:
		errs = append(errs, "password must be at least 8 characters long")
	}

	var hasLower, hasUpper, hasDigit, hasSpecial, hasSpace bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsSpace(r):
			hasSpace = true
		case strings.ContainsRune(specialCharacters, r):
			hasSpecial = true
		}
	}

	if hasLower {
		score += 15
	} else {
		errs = append(errs, "password must contain a lowercase letter")
	}
	if hasUpper {
		score += 15
	} else {
		errs = append(errs, "password must contain an uppercase letter")
	}
	if hasDigit {
		score += 15
	} else {
		errs = append(errs, "password must contain a digit")
	}
	if hasSpecial {
		score += 20
	} else {
		errs = append(errs, "password must contain a special character")
	}
	if hasSpace {
		errs = append(errs, "password must not contain whitespace")
	}

	if !p.IsPasswordSafe(password) {
		errs = append(errs, "password is too similar to a commonly used password")
		score -= 30
	}

	if hasObviousPattern(password) {
		errs = append(errs, "password contains an obvious pattern")
		score -= 15
	}

	if n := len(password); n > 0 {
		distinct := make(map[rune]struct{}, n)
		for _, r := range password {
			distinct[r] = struct{}{}
		}
		if float64(len(distinct)) >= 0.7*float64(n) {
			score += 10
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return PasswordEvaluation{
		IsValid:  len(errs) == 0,
		Errors:   errs,
		Score:    score,
		Strength: strengthFor(score),
	}
}

// IsPasswordSafe reports whether the candidate is neither a well-known
// password nor a close variant of one. A candidate counts as a variant when
// it contains a listed password and is at most 3 characters longer than it.
func (p *PasswordPolicy) IsPasswordSafe(password string) bool {
	lowered := strings.ToLower(password)
	for _, common := range commonPasswords {
		if strings.Contains(lowered, common) && len(password) <= len(common)+3 {
			return false
		}
	}
	return true
}

func strengthFor(score int) PasswordStrength {
	switch {
	case score >= 90:
		return StrengthVeryStrong
	case score >= 75:
		return StrengthStrong
	case score >= 60:
		return StrengthGood
	case score >= 40:
		return StrengthFair
	case score >= 20:
		return StrengthWeak
	default:
		return StrengthVeryWeak
	}
}

// hasObviousPattern detects consecutive runs ("123", "abc"), keyboard-row
// runs of four ("qwer") and 4+ repeated identical characters.
func hasObviousPattern(password string) bool {
	lowered := strings.ToLower(password)
	runes := []rune(lowered)

	// ascending digit or letter runs of three
	for i := 0; i+2 < len(runes); i++ {
		a, b, c := runes[i], runes[i+1], runes[i+2]
		digits := unicode.IsDigit(a) && unicode.IsDigit(b) && unicode.IsDigit(c)
		letters := a >= 'a' && a <= 'z' && b >= 'a' && b <= 'z' && c >= 'a' && c <= 'z'
		if (digits || letters) && b == a+1 && c == b+1 {
			return true
		}
	}

	// four identical characters in a row
	repeat := 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			repeat++
			if repeat >= 4 {
				return true
			}
		} else {
			repeat = 1
		}
	}

	// keyboard-row fragments of four
	for i := 0; i+4 <= len(lowered); i++ {
		fragment := lowered[i : i+4]
		for _, row := range keyboardRows {
			if strings.Contains(row, fragment) {
				return true
			}
		}
	}

	return false
}
