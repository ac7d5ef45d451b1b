package logging

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// secretWords mark a key whose value must never reach a log file, such as a
// Wi-Fi passphrase handed to NetworkManager.
var secretWords = map[string]bool{
	"secret":     true,
	"password":   true,
	"passphrase": true,
	"psk":        true,
	"token":      true,
	"key":        true,
	"auth":       true,
	"credential": true,
}

// contentKeys carry notification text. Only its length is logged.
var contentKeys = map[string]bool{
	"body":    true,
	"summary": true,
}

// scrub returns a copy of the key-value pairs with secrets replaced and
// notification content reduced to its length.
func scrub(pairs []any) []any {
	if len(pairs) == 0 {
		return pairs
	}
	out := make([]any, len(pairs))
	copy(out, pairs)
	for i := 0; i+1 < len(out); i += 2 {
		key, ok := out[i].(string)
		if !ok {
			continue
		}
		switch class(key) {
		case classSecret:
			out[i+1] = "[REDACTED]"
		case classContent:
			if s, ok := out[i+1].(string); ok {
				out[i+1] = fmt.Sprintf("[%d chars]", utf8.RuneCountInString(s))
			}
		}
	}
	return out
}

type keyClass int

const (
	classPlain keyClass = iota
	classSecret
	classContent
)

// class looks at the lower-cased segments of key, split on anything that is
// not a letter or digit.
func class(key string) keyClass {
	segments := strings.FieldsFunc(strings.ToLower(key), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	c := classPlain
	for _, s := range segments {
		if secretWords[s] {
			return classSecret
		}
		if contentKeys[s] {
			c = classContent
		}
	}
	return c
}
