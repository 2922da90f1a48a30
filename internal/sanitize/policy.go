package sanitize

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Policy is the declarative sanitization policy as loaded from config.
type Policy struct {
	// DefaultStrategy applies to sensitive values without an override.
	DefaultStrategy string `koanf:"default_strategy" toml:"default_strategy"`

	// Strategies maps a field name (leaf key or dotted path) to a strategy
	// string such as "mask:4". Fields listed here are treated as sensitive.
	Strategies map[string]string `koanf:"strategies" toml:"strategies"`

	// SensitiveFields adds field-name fragments to the built-in list.
	SensitiveFields []string `koanf:"sensitive_fields" toml:"sensitive_fields"`

	// Patterns adds value detection rules.
	Patterns []Rule `koanf:"patterns" toml:"patterns"`

	// Exclude lists field names (leaf key or dotted path) never sanitized.
	Exclude []string `koanf:"exclude" toml:"exclude"`

	// InspectValues enables value-content detection on string values.
	InspectValues bool `koanf:"inspect_values" toml:"inspect_values"`

	// Gitleaks adds the gitleaks default rule set to value inspection.
	// It catches many more vendor token formats at a large per-value cost.
	Gitleaks bool `koanf:"gitleaks" toml:"gitleaks"`
}

// DefaultPolicy returns the production default: redact sensitive names,
// inspect string values.
func DefaultPolicy() Policy {
	return Policy{
		DefaultStrategy: "redact",
		InspectValues:   true,
	}
}

// CompiledPolicy is an immutable, validated policy. Strategies are resolved
// once per configured field here rather than per call.
type CompiledPolicy struct {
	defaultStrategy Strategy
	overrides       map[string]Strategy
	excluded        map[string]struct{}
	inspectValues   bool
	matcher         *Matcher
}

// Compile validates p and resolves it. Any invalid strategy or pattern is
// reported here.
func Compile(p Policy) (*CompiledPolicy, error) {
	def, err := ParseStrategy(p.DefaultStrategy)
	if err != nil {
		return nil, fmt.Errorf("default strategy: %w", err)
	}

	overrides := make(map[string]Strategy, len(p.Strategies))
	for field, def := range p.Strategies {
		s, err := ParseStrategy(def)
		if err != nil {
			return nil, fmt.Errorf("strategy for field %q: %w", field, err)
		}
		overrides[strings.ToLower(field)] = s
	}

	excluded := make(map[string]struct{}, len(p.Exclude))
	for _, f := range p.Exclude {
		excluded[strings.ToLower(f)] = struct{}{}
	}

	matcher, err := NewMatcher(p.SensitiveFields, p.Patterns)
	if err != nil {
		return nil, err
	}
	if p.Gitleaks {
		if matcher.secrets, err = newSecretScanner(); err != nil {
			return nil, err
		}
	}

	return &CompiledPolicy{
		defaultStrategy: def,
		overrides:       overrides,
		excluded:        excluded,
		inspectValues:   p.InspectValues,
		matcher:         matcher,
	}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(p Policy) *CompiledPolicy {
	cp, err := Compile(p)
	if err != nil {
		panic(err)
	}
	return cp
}

// Matcher returns the policy's pattern matcher.
func (p *CompiledPolicy) Matcher() *Matcher {
	return p.matcher
}

// DefaultStrategy returns the strategy used when no override applies.
func (p *CompiledPolicy) DefaultStrategy() Strategy {
	return p.defaultStrategy
}

// InspectValues reports whether value-content detection is on.
func (p *CompiledPolicy) InspectValues() bool {
	return p.inspectValues
}

// excludedField reports whether the field at path (or its leaf key) is
// excluded from sanitization.
func (p *CompiledPolicy) excludedField(path, key string) bool {
	if len(p.excluded) == 0 {
		return false
	}
	if _, ok := p.excluded[strings.ToLower(path)]; ok {
		return true
	}
	_, ok := p.excluded[strings.ToLower(key)]
	return ok
}

// override returns the per-field strategy, preferring the dotted path.
func (p *CompiledPolicy) override(path, key string) (Strategy, bool) {
	if len(p.overrides) == 0 {
		return Strategy{}, false
	}
	if s, ok := p.overrides[strings.ToLower(path)]; ok {
		return s, true
	}
	s, ok := p.overrides[strings.ToLower(key)]
	return s, ok
}

// StrategyFor returns the strategy for a field and whether the field is
// sensitive by name (explicit override or matcher hit).
func (p *CompiledPolicy) StrategyFor(path, key string) (Strategy, bool) {
	if s, ok := p.override(path, key); ok {
		return s, true
	}
	if p.matcher.MatchName(key) {
		return p.defaultStrategy, true
	}
	return p.defaultStrategy, false
}

// LoadPolicyFile reads a TOML policy file. The file uses the same keys as
// the koanf config section, e.g.
//
//	default_strategy = "mask:4"
//	inspect_values = true
//	exclude = ["request_id"]
//
//	[strategies]
//	email = "hash:blake2b"
//
//	[[patterns]]
//	id = "employee-id"
//	pattern = 'EMP-\d{6}'
func LoadPolicyFile(path string) (Policy, error) {
	p := DefaultPolicy()
	if _, err := os.Stat(path); err != nil {
		return Policy{}, err
	}
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return Policy{}, fmt.Errorf("%w: %s: %v", ErrInvalidPolicy, path, err)
	}
	return p, nil
}
