// Package tokenizer splits source text into code-aware search tokens.
//
// Letters, digits and the characters $ @ # - _ extend a token; every other
// character (whitespace and remaining punctuation) ends one. Tokens are
// lower-cased and never dropped for being short, so identifiers such as
// `$el`, `@Override`, `#include` and `x` stay searchable.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token is a single lower-cased term with its location in the source.
type Token struct {
	// Text is the lower-cased token.
	Text string
	// Offset is the byte offset of the token's first character.
	Offset int
	// Line is the 1-based line number the token starts on.
	Line int
}

// IsTokenRune reports whether r extends a token.
func IsTokenRune(r rune) bool {
	switch r {
	case '$', '@', '#', '-', '_':
		return true
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Tokenize returns the tokens of content in source order.
func Tokenize(content string) []Token {
	tokens := make([]Token, 0, len(content)/6)
	line := 1
	start := -1
	startLine := 1

	flush := func(end int) {
		if start >= 0 {
			tokens = append(tokens, Token{
				Text:   strings.ToLower(content[start:end]),
				Offset: start,
				Line:   startLine,
			})
			start = -1
		}
	}

	for i := 0; i < len(content); {
		r, size := utf8.DecodeRuneInString(content[i:])
		if IsTokenRune(r) {
			if start < 0 {
				start = i
				startLine = line
			}
		} else {
			flush(i)
			if r == '\n' {
				line++
			}
		}
		i += size
	}
	flush(len(content))

	return tokens
}

// Terms returns the distinct lower-cased tokens of a query in first-seen order.
func Terms(query string) []string {
	toks := Tokenize(query)
	seen := make(map[string]struct{}, len(toks))
	terms := make([]string, 0, len(toks))
	for _, t := range toks {
		if _, ok := seen[t.Text]; ok {
			continue
		}
		seen[t.Text] = struct{}{}
		terms = append(terms, t.Text)
	}
	return terms
}

// Texts returns only the token strings.
func Texts(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Text
	}
	return out
}

// End returns the byte offset just past the token starting at offset in
// content.
func End(content string, offset int) int {
	end := offset
	for end < len(content) {
		r, size := utf8.DecodeRuneInString(content[end:])
		if !IsTokenRune(r) {
			break
		}
		end += size
	}
	return end
}
