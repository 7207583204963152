package command

import (
	"strconv"
	"strings"

	"github.com/danmuck/tether/internal/protocol/session"
)

// ArgKind is the concrete type of one argument or token.
type ArgKind uint8

const (
	KindInteger ArgKind = iota + 1
	KindFloat
	KindString
)

func (k ArgKind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// ArgType is one schema slot.
type ArgType struct {
	Kind     ArgKind
	Optional bool
}

var (
	Integer    = ArgType{Kind: KindInteger}
	Float      = ArgType{Kind: KindFloat}
	String     = ArgType{Kind: KindString}
	OptInteger = ArgType{Kind: KindInteger, Optional: true}
	OptFloat   = ArgType{Kind: KindFloat, Optional: true}
	OptString  = ArgType{Kind: KindString, Optional: true}
)

func (a ArgType) String() string {
	if a.Optional {
		return "{" + a.Kind.String() + "}"
	}
	return "[" + a.Kind.String() + "]"
}

// Token is one typed word of an operator line.
type Token struct {
	Kind  ArgKind
	Int   int64
	Float float64
	Str   string
}

func IntToken(v int64) Token     { return Token{Kind: KindInteger, Int: v} }
func FloatToken(v float64) Token { return Token{Kind: KindFloat, Float: v} }
func StrToken(v string) Token    { return Token{Kind: KindString, Str: v} }

func (t Token) String() string {
	switch t.Kind {
	case KindInteger:
		return strconv.FormatInt(t.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(t.Float, 'g', -1, 64)
	default:
		return t.Str
	}
}

// Value returns the token as int64, float64 or string.
func (t Token) Value() any {
	switch t.Kind {
	case KindInteger:
		return t.Int
	case KindFloat:
		return t.Float
	default:
		return t.Str
	}
}

// Validity is the outcome of parsing and validating an operator line.
type Validity uint8

const (
	Valid Validity = iota
	TooFewArgs
	TooManyArgs
	InvalidType
	CantParse
	NoTokens
)

func (v Validity) String() string {
	switch v {
	case Valid:
		return "valid"
	case TooFewArgs:
		return "too_few_args"
	case TooManyArgs:
		return "too_many_args"
	case InvalidType:
		return "invalid_type"
	case CantParse:
		return "cant_parse"
	case NoTokens:
		return "no_tokens"
	default:
		return "unknown"
	}
}

// Status is the per-endpoint result vocabulary.
type Status uint8

const (
	StatusPending Status = iota
	StatusSuccess
	StatusPartialSuccess
	StatusFailure
	StatusTimeout
	StatusConnError
	StatusParamError
	StatusNotFound
	StatusRetryExhausted
)

var statusNames = [...]string{
	StatusPending:        "pending",
	StatusSuccess:        "success",
	StatusPartialSuccess: "partial_success",
	StatusFailure:        "failure",
	StatusTimeout:        "timeout",
	StatusConnError:      "conn_error",
	StatusParamError:     "param_error",
	StatusNotFound:       "not_found",
	StatusRetryExhausted: "max_retries_hit",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}

func (s Status) Terminal() bool { return s != StatusPending && int(s) < len(statusNames) }

// Outcome is what a controller-side procedure reports.
type Outcome struct {
	Status Status
	// Value is an optional return value; it must be CBOR-encodable when the
	// command runs in a worker process.
	Value any
}

func Succeeded(v any) Outcome { return Outcome{Status: StatusSuccess, Value: v} }

func Partial(v any) Outcome { return Outcome{Status: StatusPartialSuccess, Value: v} }

func Failed() Outcome { return Outcome{Status: StatusFailure} }

// PlatformSet is a bitmask of supported platforms. The zero value means all.
type PlatformSet uint8

func Platforms(ps ...session.Platform) PlatformSet {
	var set PlatformSet
	for _, p := range ps {
		set |= 1 << uint(p)
	}
	return set
}

func (s PlatformSet) Supports(p session.Platform) bool {
	if s == 0 {
		return true
	}
	return s&(1<<uint(p)) != 0
}

func (s PlatformSet) String() string {
	if s == 0 {
		return "all"
	}
	var names []string
	for _, p := range []session.Platform{session.PlatformLinux, session.PlatformDarwin, session.PlatformWindows, session.PlatformOther} {
		if s.Supports(p) {
			names = append(names, p.String())
		}
	}
	return strings.Join(names, ",")
}
