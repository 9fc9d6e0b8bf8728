package tenant

import (
	"regexp"
	"strings"
	"time"
	"unicode"
)

const (
	DefaultTablePrefix = "analytics_"

	maxProjectIDLength   = 50
	maxTablePrefixLength = 40
	maxDBNameLength      = 63
	defaultDBPort        = 5432
)

var (
	projectIDPattern  = regexp.MustCompile(`^[a-z0-9_-]+$`)
	identifierPattern = regexp.MustCompile(`^[a-z0-9_]+$`)
)

// Config is one project's registry row: identity, connection parameters and
// the active flag. Instances are treated as immutable once cached; updates go
// through the registry and a router reload.
type Config struct {
	ID                  int64     `json:"id"`
	ProjectID           string    `json:"projectId"`
	ProjectName         string    `json:"projectName"`
	DBHost              string    `json:"dbHost"`
	DBPort              int       `json:"dbPort"`
	DBName              string    `json:"dbName"`
	DBUser              string    `json:"dbUser"`
	DBPasswordEncrypted string    `json:"-"`
	TablePrefix         string    `json:"tablePrefix"`
	Active              bool      `json:"active"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// TableName returns the prefixed physical table name for a logical name.
func (c *Config) TableName(logical string) string {
	return c.TablePrefix + logical
}

// NormalizeProjectID strips surrounding space and removes interior whitespace
// and invisible format runes (header values can smuggle zero-width characters),
// then checks the identifier policy. ok is false when nothing valid remains.
func NormalizeProjectID(raw string) (string, bool) {
	stripped := strings.TrimSpace(raw)

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		if unicode.IsSpace(r) || unicode.Is(unicode.Cf, r) {
			continue
		}
		b.WriteRune(r)
	}

	id := b.String()
	if id == "" || len(id) > maxProjectIDLength || !projectIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

// NormalizeTablePrefix applies the table prefix policy, defaulting empty input.
func NormalizeTablePrefix(raw string) (string, bool) {
	prefix := strings.TrimSpace(raw)
	if prefix == "" {
		return DefaultTablePrefix, true
	}
	if len(prefix) > maxTablePrefixLength || !identifierPattern.MatchString(prefix) {
		return "", false
	}
	return prefix, true
}

// NormalizeDBName validates a database name.
func NormalizeDBName(raw string) (string, bool) {
	name := strings.TrimSpace(raw)
	if name == "" || len(name) > maxDBNameLength || !identifierPattern.MatchString(name) {
		return "", false
	}
	return name, true
}

// NormalizeDBPort validates a port, defaulting zero to the Postgres default.
func NormalizeDBPort(port int) (int, bool) {
	if port == 0 {
		return defaultDBPort, true
	}
	if port < 1 || port > 65535 {
		return 0, false
	}
	return port, true
}
