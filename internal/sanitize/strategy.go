package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"
)

// Markers written in place of sensitive content.
const (
	RedactedMarker  = "[REDACTED]"
	CircularMarker  = "[CIRCULAR]"
	TruncatedMarker = "...[TRUNCATED]"
	MaskChar        = '*'
)

// Kind is the closed set of sanitization strategies.
type Kind uint8

const (
	KindRedact Kind = iota
	KindMask
	KindHash
	KindTruncate
)

func (k Kind) String() string {
	switch k {
	case KindRedact:
		return "redact"
	case KindMask:
		return "mask"
	case KindHash:
		return "hash"
	case KindTruncate:
		return "truncate"
	default:
		return "unknown"
	}
}

// Hash algorithms supported by KindHash.
const (
	HashSHA256  = "sha256"
	HashBlake2b = "blake2b"
)

// Strategy defaults.
const (
	DefaultMaskKeep    = 4
	DefaultMaskWidth   = 8
	DefaultHashPrefix  = 12
	DefaultTruncateLen = 8
)

// Strategy is a resolved sanitization strategy with its parameters.
// Strategies are value types built once when a policy is compiled.
type Strategy struct {
	Kind Kind

	// Keep is the number of trailing runes kept by mask, or leading runes
	// kept by truncate.
	Keep int

	// Width is the fixed output length of mask.
	Width int

	// Algorithm and Prefix configure hash.
	Algorithm string
	Prefix    int
}

// Redact returns the redact strategy.
func Redact() Strategy { return Strategy{Kind: KindRedact} }

// Mask returns a mask strategy keeping the last keep runes.
func Mask(keep int) Strategy {
	return Strategy{Kind: KindMask, Keep: keep, Width: DefaultMaskWidth}
}

// Hash returns a hash strategy with the given algorithm.
func Hash(algorithm string) Strategy {
	return Strategy{Kind: KindHash, Algorithm: algorithm, Prefix: DefaultHashPrefix}
}

// Truncate returns a truncate strategy keeping the first n runes.
func Truncate(n int) Strategy {
	return Strategy{Kind: KindTruncate, Keep: n}
}

// ParseStrategy parses a strategy string: "redact", "mask[:keep]",
// "hash[:sha256|blake2b]" or "truncate[:n]".
func ParseStrategy(s string) (Strategy, error) {
	name, arg, hasArg := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")

	intArg := func(def int) (int, error) {
		if !hasArg {
			return def, nil
		}
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %q: argument must be a non-negative integer", ErrInvalidStrategy, s)
		}
		return n, nil
	}

	switch name {
	case "redact", "":
		if hasArg {
			return Strategy{}, fmt.Errorf("%w: %q: redact takes no argument", ErrInvalidStrategy, s)
		}
		return Redact(), nil
	case "mask":
		keep, err := intArg(DefaultMaskKeep)
		if err != nil {
			return Strategy{}, err
		}
		if keep > DefaultMaskWidth/2 {
			return Strategy{}, fmt.Errorf("%w: %q: mask may keep at most %d characters", ErrInvalidStrategy, s, DefaultMaskWidth/2)
		}
		return Mask(keep), nil
	case "hash":
		algo := HashSHA256
		if hasArg {
			algo = arg
		}
		if algo != HashSHA256 && algo != HashBlake2b {
			return Strategy{}, fmt.Errorf("%w: %q: unknown hash algorithm", ErrInvalidStrategy, s)
		}
		return Hash(algo), nil
	case "truncate":
		n, err := intArg(DefaultTruncateLen)
		if err != nil {
			return Strategy{}, err
		}
		return Truncate(n), nil
	default:
		return Strategy{}, fmt.Errorf("%w: %q", ErrInvalidStrategy, s)
	}
}

// String renders the strategy in the form ParseStrategy accepts.
func (s Strategy) String() string {
	switch s.Kind {
	case KindMask:
		return fmt.Sprintf("mask:%d", s.Keep)
	case KindHash:
		return "hash:" + s.Algorithm
	case KindTruncate:
		return fmt.Sprintf("truncate:%d", s.Keep)
	default:
		return s.Kind.String()
	}
}

// Apply transforms a sensitive string value.
func (s Strategy) Apply(v string) string {
	switch s.Kind {
	case KindMask:
		return s.mask(v)
	case KindHash:
		return s.hash(v)
	case KindTruncate:
		return s.truncate(v)
	default:
		return RedactedMarker
	}
}

// mask emits a fixed-width string: mask characters followed by the last
// Keep runes. Short values keep proportionally fewer runes.
func (s Strategy) mask(v string) string {
	width := s.Width
	if width <= 0 {
		width = DefaultMaskWidth
	}
	runes := []rune(v)
	keep := s.Keep
	if len(runes) <= keep*2 {
		keep = len(runes) / 4
	}
	if keep > width/2 {
		keep = width / 2
	}

	var b strings.Builder
	b.Grow(width + utf8.UTFMax*keep)
	for i := 0; i < width-keep; i++ {
		b.WriteRune(MaskChar)
	}
	b.WriteString(string(runes[len(runes)-keep:]))
	return b.String()
}

func (s Strategy) hash(v string) string {
	var sum []byte
	switch s.Algorithm {
	case HashBlake2b:
		d := blake2b.Sum256([]byte(v))
		sum = d[:]
	default:
		d := sha256.Sum256([]byte(v))
		sum = d[:]
	}
	digest := hex.EncodeToString(sum)
	n := s.Prefix
	if n <= 0 || n > len(digest) {
		n = DefaultHashPrefix
	}
	algo := s.Algorithm
	if algo == "" {
		algo = HashSHA256
	}
	return algo + ":" + digest[:n]
}

// truncate keeps the first Keep runes. Values no longer than Keep keep only
// their first half so the marker never sits next to the complete value.
func (s Strategy) truncate(v string) string {
	runes := []rune(v)
	keep := s.Keep
	if len(runes) <= keep {
		keep = len(runes) / 2
	}
	return string(runes[:keep]) + TruncatedMarker
}
