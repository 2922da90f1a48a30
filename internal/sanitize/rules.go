package sanitize

// Rule IDs for built-in value detectors.
const (
	RuleCardNumber    = "card_number"
	RuleEmail         = "email"
	RulePhone         = "phone"
	RuleUUID          = "uuid"
	RuleTokenTriplet  = "token_triplet"
	RuleBearer        = "bearer"
	RuleAWSAccessKey  = "aws-access-key-id"
	RuleGitHubToken   = "github-token"
	RulePrivateKey    = "private-key"
	RuleGenericAPIKey = "generic-api-key"

	// RuleFieldName is the report key for values transformed because the
	// field name itself was sensitive.
	RuleFieldName = "field_name"
)

// Rule defines a value-content detection rule.
type Rule struct {
	// ID identifies the rule in reports.
	ID string `koanf:"id" toml:"id"`

	// Description explains what this rule detects.
	Description string `koanf:"description" toml:"description"`

	// Pattern is the regex matched against string values.
	Pattern string `koanf:"pattern" toml:"pattern"`

	// Luhn requires matches to pass the Luhn checksum.
	Luhn bool `koanf:"luhn" toml:"luhn"`
}

// DefaultSensitiveNames is the curated list of field-name fragments that
// mark a field as sensitive. Matching is case-insensitive and treats '-'
// like '_'.
func DefaultSensitiveNames() []string {
	return []string{
		"password", "passwd", "pwd", "passphrase",
		"secret", "token", "api_key", "apikey",
		"access_key", "private_key", "privatekey",
		"authorization", "auth_header", "bearer",
		"credential", "cookie", "session_id", "sessionid",
		"ssn", "social_security",
		"credit_card", "creditcard", "card_number", "cvv",
	}
}

// DefaultRules returns the built-in value detectors.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          RuleCardNumber,
			Description: "Payment card number",
			Pattern:     `\b\d(?:[ \-]?\d){12,18}\b`,
			Luhn:        true,
		},
		{
			ID:          RuleEmail,
			Description: "Email address",
			Pattern:     `[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
		},
		{
			ID:          RulePhone,
			Description: "Phone number",
			Pattern:     `(?:\+\d{1,3}[\s.\-]?)?\(?\b\d{3}\)?[\s.\-]\d{3}[\s.\-]\d{4}\b`,
		},
		{
			ID:          RuleUUID,
			Description: "UUID",
			Pattern:     `\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`,
		},
		{
			ID:          RuleTokenTriplet,
			Description: "Dot-separated token (JWT shaped)",
			Pattern:     `\b[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}\b`,
		},
		{
			ID:          RuleBearer,
			Description: "Bearer credential",
			Pattern:     `(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`,
		},
		{
			ID:          RuleAWSAccessKey,
			Description: "AWS Access Key ID",
			Pattern:     `\b(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}\b`,
		},
		{
			ID:          RuleGitHubToken,
			Description: "GitHub token",
			Pattern:     `\b(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36}\b`,
		},
		{
			ID:          RulePrivateKey,
			Description: "Private key header",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`,
		},
		{
			ID:          RuleGenericAPIKey,
			Description: "Generic API key assignment",
			Pattern:     `(?i)(?:api[_-]?key|apikey)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,64}['"]?`,
		},
	}
}
