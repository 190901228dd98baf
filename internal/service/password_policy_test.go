package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateAcceptsStrongPassword(t *testing.T) {
	policy := NewPasswordPolicy()

	eval := policy.Evaluate("Tr4vel#Window9")
	assert.True(t, eval.IsValid)
	assert.Empty(t, eval.Errors)
	assert.Equal(t, 100, eval.Score)
	assert.Equal(t, StrengthVeryStrong, eval.Strength)
}

func TestEvaluateMissingCharacterClasses(t *testing.T) {
	policy := NewPasswordPolicy()

	eval := policy.Evaluate("onlylowercaseletters")
	assert.False(t, eval.IsValid)
	assert.Contains(t, eval.Errors, "password must contain an uppercase letter")
	assert.Contains(t, eval.Errors, "password must contain a digit")
	assert.Contains(t, eval.Errors, "password must contain a special character")
}

func TestEvaluateTooShort(t *testing.T) {
	policy := NewPasswordPolicy()

	eval := policy.Evaluate("aB1!")
	assert.False(t, eval.IsValid)
	assert.Contains(t, eval.Errors, "password must be at least 8 characters long")
}

func TestEvaluateRejectsWhitespace(t *testing.T) {
	policy := NewPasswordPolicy()

	eval := policy.Evaluate("Has Space#In1t")
	assert.False(t, eval.IsValid)
	assert.Contains(t, eval.Errors, "password must not contain whitespace")
}

func TestEvaluatePenalizesCommonVariant(t *testing.T) {
	policy := NewPasswordPolicy()

	// "Password1!" embeds "password" and is within three extra characters,
	// so the common-password penalty applies on top of the class bonuses.
	eval := policy.Evaluate("Password1!")
	assert.False(t, eval.IsValid)
	assert.Contains(t, eval.Errors, "password is too similar to a commonly used password")
	assert.Equal(t, 60, eval.Score)
	assert.Equal(t, StrengthGood, eval.Strength)
}

func TestEvaluateLongPasswordEscapesVariantRule(t *testing.T) {
	policy := NewPasswordPolicy()

	// Contains "password" but is more than three characters longer, so it
	// no longer counts as a variant of the common entry.
	eval := policy.Evaluate("MyPasswordFine!7")
	assert.True(t, eval.IsValid)
	assert.Equal(t, 100, eval.Score)
	assert.Equal(t, StrengthVeryStrong, eval.Strength)
}

func TestEvaluateFlagsObviousPatterns(t *testing.T) {
	policy := NewPasswordPolicy()

	cases := map[string]string{
		"ascending letters": "Abcdefgh1!",
		"ascending digits":  "Zk#qm123xT",
		"repeated run":      "Faaaa#Zt1q",
		"keyboard fragment": "Qwer#Tp19xL",
	}
	for name, password := range cases {
		t.Run(name, func(t *testing.T) {
			eval := policy.Evaluate(password)
			assert.False(t, eval.IsValid)
			assert.Contains(t, eval.Errors, "password contains an obvious pattern")
		})
	}
}

func TestEvaluatePatternPenaltyLowersScore(t *testing.T) {
	policy := NewPasswordPolicy()

	// All class bonuses apply but the ascending run costs 15 points.
	eval := policy.Evaluate("Abcdefgh1!")
	assert.Equal(t, 75, eval.Score)
	assert.Equal(t, StrengthStrong, eval.Strength)
}

func TestIsPasswordSafe(t *testing.T) {
	policy := NewPasswordPolicy()

	assert.False(t, policy.IsPasswordSafe("password"))
	assert.False(t, policy.IsPasswordSafe("Password12"))
	assert.False(t, policy.IsPasswordSafe("xQWERTY9"))
	assert.True(t, policy.IsPasswordSafe("dragonfly-rises9"))
	assert.True(t, policy.IsPasswordSafe("MyPasswordFine!7"))
}

func TestStrengthBuckets(t *testing.T) {
	assert.Equal(t, StrengthVeryWeak, strengthFor(10))
	assert.Equal(t, StrengthWeak, strengthFor(25))
	assert.Equal(t, StrengthFair, strengthFor(45))
	assert.Equal(t, StrengthGood, strengthFor(60))
	assert.Equal(t, StrengthStrong, strengthFor(80))
	assert.Equal(t, StrengthVeryStrong, strengthFor(95))
}
