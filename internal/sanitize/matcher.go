package sanitize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// maxPatternLen caps custom pattern length.
const maxPatternLen = 512

// Match is a detected span inside a string value.
type Match struct {
	Start, End int
	RuleID     string
}

type compiledRule struct {
	id   string
	re   *regexp.Regexp
	luhn bool
}

// Matcher classifies field names and string values as sensitive.
//
// Name checks are substring matches against a lower-cased, normalized key.
// Value checks run compiled content rules; card-shaped runs must pass the
// Luhn checksum to count. A Matcher is immutable and safe for concurrent use.
type Matcher struct {
	names   []string
	rules   []compiledRule
	secrets *secretScanner
}

// NewMatcher compiles the built-in rules plus extra rules, and the built-in
// sensitive names plus extra names. Invalid rules are reported here, never
// at match time.
func NewMatcher(extraNames []string, extraRules []Rule) (*Matcher, error) {
	m := &Matcher{}

	for _, n := range append(DefaultSensitiveNames(), extraNames...) {
		n = normalizeName(n)
		if n == "" {
			continue
		}
		m.names = append(m.names, n)
	}

	seen := make(map[string]bool)
	for _, r := range append(DefaultRules(), extraRules...) {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: rule with pattern %q has no id", ErrInvalidPattern, r.Pattern)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("%w: duplicate rule id %q", ErrInvalidPattern, r.ID)
		}
		seen[r.ID] = true

		if r.Pattern == "" {
			return nil, fmt.Errorf("%w: rule %s: pattern is required", ErrInvalidPattern, r.ID)
		}
		if len(r.Pattern) > maxPatternLen {
			return nil, fmt.Errorf("%w: rule %s: pattern too long (max %d chars)", ErrInvalidPattern, r.ID, maxPatternLen)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s: %v", ErrInvalidPattern, r.ID, err)
		}
		m.rules = append(m.rules, compiledRule{id: r.ID, re: re, luhn: r.Luhn})
	}

	return m, nil
}

// normalizeName lower-cases a key and maps '-' and '.' to '_'.
func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("-", "_", ".", "_").Replace(name)
}

// MatchName reports whether a field name looks sensitive.
func (m *Matcher) MatchName(name string) bool {
	if name == "" {
		return false
	}
	n := normalizeName(name)
	for _, s := range m.names {
		if strings.Contains(n, s) {
			return true
		}
	}
	return false
}

// MatchValue reports the first rule that detects sensitive content in s.
func (m *Matcher) MatchValue(s string) (string, bool) {
	matches := m.FindAll(s)
	if len(matches) == 0 {
		return "", false
	}
	return matches[0].RuleID, true
}

// FindAll returns the sensitive spans in s, sorted by start offset and with
// overlapping spans merged. A merged span keeps the rule ID of its earliest
// contributor.
func (m *Matcher) FindAll(s string) []Match {
	if s == "" {
		return nil
	}

	var found []Match
	for _, r := range m.rules {
		for _, loc := range r.re.FindAllStringIndex(s, -1) {
			if r.luhn && !LuhnValid(s[loc[0]:loc[1]]) {
				for _, w := range cardWindows(s, loc[0], loc[1]) {
					found = append(found, Match{Start: w[0], End: w[1], RuleID: r.id})
				}
				continue
			}
			found = append(found, Match{Start: loc[0], End: loc[1], RuleID: r.id})
		}
	}
	if m.secrets != nil {
		found = append(found, m.secrets.find(s)...)
	}
	if len(found) == 0 {
		return nil
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Start < found[j].Start
	})
	return mergeMatches(found)
}

// ReplaceAll returns s with every detected span replaced by repl, and the
// spans that were replaced. s is returned unchanged when nothing matches.
func (m *Matcher) ReplaceAll(s string, repl func(span, ruleID string) string) (string, []Match) {
	matches := m.FindAll(s)
	if len(matches) == 0 {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, mt := range matches {
		b.WriteString(s[last:mt.Start])
		b.WriteString(repl(s[mt.Start:mt.End], mt.RuleID))
		last = mt.End
	}
	b.WriteString(s[last:])
	return b.String(), matches
}

// cardWindows finds Luhn-valid card-length windows inside s[start:end], a
// digit run whose whole failed the checksum because a neighbouring number
// (a quantity, an expiry month) was joined to it. Windows begin and end on
// digit-group boundaries, so the inside of a single unseparated number is
// never tried. Windows do not overlap; the longest valid one at each start
// wins.
func cardWindows(s string, start, end int) [][2]int {
	var digits []int
	var groupStart, groupEnd []bool
	for i := start; i < end; i++ {
		if !isDigit(s[i]) {
			continue
		}
		digits = append(digits, i)
		groupStart = append(groupStart, i == start || !isDigit(s[i-1]))
		groupEnd = append(groupEnd, i+1 == end || !isDigit(s[i+1]))
	}

	var out [][2]int
	for i := 0; i+minCardDigits <= len(digits); i++ {
		if !groupStart[i] {
			continue
		}
		for n := min(maxCardDigits, len(digits)-i); n >= minCardDigits; n-- {
			last := i + n - 1
			if !groupEnd[last] {
				continue
			}
			lo, hi := digits[i], digits[last]+1
			if LuhnValid(s[lo:hi]) {
				out = append(out, [2]int{lo, hi})
				i = last
				break
			}
		}
	}
	return out
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// mergeMatches merges overlapping or adjacent spans. Input must be sorted
// by start ascending.
func mergeMatches(in []Match) []Match {
	merged := []Match{in[0]}
	for _, cur := range in[1:] {
		last := &merged[len(merged)-1]
		if cur.Start <= last.End {
			if cur.End > last.End {
				last.End = cur.End
			}
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}
