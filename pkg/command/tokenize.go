package command

import (
	"regexp"
	"strings"
)

// DefaultKeyword prefixes every operator command
const DefaultKeyword = "log"

var (
	mediaCode = regexp.MustCompile(`\[CQ:[a-z]+[^\]]*\]`)
	signedInt = regexp.MustCompile(`^[+-]?\d+$`)
	allDigits = regexp.MustCompile(`^\d+$`)
)

// Tokenize drops inline media codes from a chat message and splits the rest
// on whitespace
func Tokenize(text string) []string {
	return strings.Fields(mediaCode.ReplaceAllString(text, " "))
}

// IsCommand reports whether text starts with keyword as its first token
func IsCommand(text, keyword string) bool {
	tokens := Tokenize(text)
	return len(tokens) > 0 && tokens[0] == keyword
}
