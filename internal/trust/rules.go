package trust

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// contentRule inspects a trimmed message and returns the name of the rule
// when it matches.
type contentRule func(msg string) (string, bool)

var contentRules = []contentRule{
	ruleRepetition,
	ruleExcessiveCaps,
	ruleSpamTerms,
}

// repetitionRun is the length of a run of one character treated as spam.
const repetitionRun = 5

func ruleRepetition(msg string) (string, bool) {
	run, prev := 0, rune(-1)
	for _, r := range msg {
		if r == prev {
			run++
		} else {
			run, prev = 1, r
		}
		if run >= repetitionRun {
			return "character_repetition", true
		}
	}
	return "", false
}

// capsRatio is the share of uppercase characters above which a message is
// treated as shouting.
const capsRatio = 0.7

func ruleExcessiveCaps(msg string) (string, bool) {
	n := utf8.RuneCountInString(msg)
	if n == 0 {
		return "", false
	}
	upper := 0
	for _, r := range msg {
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if float64(upper)/float64(n) > capsRatio {
		return "excessive_caps", true
	}
	return "", false
}

var spamTerms = regexp.MustCompile(`(?i)\b(viagra|cialis|casino|lottery)\b`)

func ruleSpamTerms(msg string) (string, bool) {
	if spamTerms.MatchString(msg) {
		return "spam_terms", true
	}
	return "", false
}

// safetyFlags runs every content rule.
func safetyFlags(msg string) []string {
	var flags []string
	for _, rule := range contentRules {
		if name, ok := rule(msg); ok {
			flags = append(flags, name)
		}
	}
	return flags
}

func endsWithPunctuation(msg string) bool {
	return strings.HasSuffix(msg, ".") || strings.HasSuffix(msg, "!") || strings.HasSuffix(msg, "?")
}

// capitalised reports whether msg starts with an uppercase letter without
// being written entirely in capitals. Short messages are exempt from the
// all-caps test.
func capitalised(msg string) bool {
	first, _ := utf8.DecodeRuneInString(msg)
	if !unicode.IsUpper(first) {
		return false
	}
	return msg != strings.ToUpper(msg) || utf8.RuneCountInString(msg) < 20
}
