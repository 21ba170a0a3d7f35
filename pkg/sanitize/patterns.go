package sanitize

import "regexp"

// Redacted is the replacement marker for credential-shaped content.
const Redacted = "[REDACTED]"

// CompiledPattern holds a pre-compiled credential pattern with its
// replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// patternDef is the source form compiled at construction time.
type patternDef struct {
	name        string
	pattern     string
	replacement string
	description string
}

// builtinPatterns are applied in order; order matters because later
// patterns (api_key assignments) overlap earlier, more specific ones
// (X-API-Key headers).
var builtinPatterns = []patternDef{
	{
		name:        "bearer_token",
		pattern:     `(Bearer\s+)[A-Za-z0-9\-._~+/]+=*`,
		replacement: "${1}" + Redacted,
		description: "Authorization bearer tokens, scheme word kept",
	},
	{
		name:        "github_token",
		pattern:     `\b(?:ghp_|gho_|ghs_|ghu_|ghr_)[A-Za-z0-9]{20,}\b|\bgithub_pat_[A-Za-z0-9_]{20,}\b`,
		replacement: Redacted,
		description: "GitHub personal access and app tokens",
	},
	{
		name:        "google_oauth",
		pattern:     `\bya29\.[A-Za-z0-9_.\-]+`,
		replacement: Redacted,
		description: "Google OAuth access tokens",
	},
	{
		name:        "secret_key",
		pattern:     `\b[sp]k[_-][A-Za-z0-9_\-]{8,}\b`,
		replacement: Redacted,
		description: "sk_/pk_ style secret and publishable keys",
	},
	{
		name:        "aws_access_key",
		pattern:     `\bAKIA[A-Z0-9]{16}\b`,
		replacement: Redacted,
		description: "AWS access key IDs",
	},
	{
		name:        "connection_string",
		pattern:     `\b(?:postgres|postgresql|mysql|mongodb(?:\+srv)?|redis|amqp)://[^\s"']+`,
		replacement: Redacted,
		description: "Database and broker connection URLs with credentials",
	},
	{
		name:        "api_key_header",
		pattern:     `(?i)(X-API-Key\s*:\s*)[^\s"']+`,
		replacement: "${1}" + Redacted,
		description: "X-API-Key header values",
	},
	{
		name:        "api_key_assignment",
		pattern:     `(?i)\b(api[_-]?key\s*[=:]\s*)["']?[^\s"'&,}]+["']?`,
		replacement: "${1}" + Redacted,
		description: "api_key=/apikey=/api-key= in query strings and config",
	},
	{
		name:        "private_key_block",
		pattern:     `(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*`,
		replacement: Redacted,
		description: "PEM private key material, marker to end of value",
	},
}
