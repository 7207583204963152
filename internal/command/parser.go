package command

import (
	"strconv"
	"strings"
	"unicode"
)

// Invocation is one parsed operator line.
type Invocation struct {
	Tokens []Token
	// Parse is the tokenizer verdict; Valid unless the line was malformed.
	Parse Validity
}

func (inv Invocation) Name() string {
	if len(inv.Tokens) == 0 || inv.Tokens[0].Kind != KindString {
		return ""
	}
	return inv.Tokens[0].Str
}

func (inv Invocation) Params() []Token {
	if len(inv.Tokens) < 2 {
		return nil
	}
	return inv.Tokens[1:]
}

// Validate checks the parameters against a schema. Parse errors win, then
// count bounds, then the first positional type mismatch.
func (inv Invocation) Validate(args []ArgType) Validity {
	if inv.Parse != Valid {
		return inv.Parse
	}
	params := inv.Params()
	if len(params) < MinArgs(args) {
		return TooFewArgs
	}
	if len(params) > len(args) {
		return TooManyArgs
	}
	for i, p := range params {
		if p.Kind != args[i].Kind {
			return InvalidType
		}
	}
	return Valid
}

// ParseLine tokenizes one operator line. Bare all-digit words (optional
// leading '-') are integers, bare decimals with one '.' are floats,
// everything else including any quoted word is a string.
func ParseLine(line string) Invocation {
	words, ok := splitWords(line)
	if !ok {
		return Invocation{Parse: CantParse}
	}
	if len(words) == 0 {
		return Invocation{Parse: NoTokens}
	}
	tokens := make([]Token, 0, len(words))
	for _, w := range words {
		tokens = append(tokens, classify(w))
	}
	if tokens[0].Kind != KindString || tokens[0].Str == "" {
		return Invocation{Tokens: tokens, Parse: InvalidType}
	}
	return Invocation{Tokens: tokens}
}

type word struct {
	text   string
	quoted bool
}

func splitWords(line string) ([]word, bool) {
	var (
		out     []word
		cur     strings.Builder
		inWord  bool
		quoted  bool
		quote   rune
		escaped bool
	)
	flush := func() {
		if inWord {
			out = append(out, word{text: cur.String(), quoted: quoted})
		}
		cur.Reset()
		inWord, quoted = false, false
	}
	for _, r := range line {
		switch {
		case quote != 0 && escaped:
			cur.WriteRune(r)
			escaped = false
		case quote != 0 && r == '\\':
			escaped = true
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			inWord, quoted = true, true
		case unicode.IsSpace(r):
			flush()
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 || escaped {
		return nil, false
	}
	flush()
	return out, true
}

func classify(w word) Token {
	if w.quoted {
		return StrToken(w.text)
	}
	if isInteger(w.text) {
		if v, err := strconv.ParseInt(w.text, 10, 64); err == nil {
			return IntToken(v)
		}
		return StrToken(w.text)
	}
	if isDecimal(w.text) {
		if v, err := strconv.ParseFloat(w.text, 64); err == nil {
			return FloatToken(v)
		}
	}
	return StrToken(w.text)
}

func isInteger(s string) bool {
	s = strings.TrimPrefix(s, "-")
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

func isDecimal(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if strings.Count(s, ".") != 1 {
		return false
	}
	digits := 0
	for _, r := range s {
		switch {
		case r == '.':
		case r >= '0' && r <= '9':
			digits++
		default:
			return false
		}
	}
	return digits > 0
}
