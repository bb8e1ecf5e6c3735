package config

import (
	"os"
	"regexp"
)

// envRefPattern matches ${VAR} and ${VAR:-default} references. Plain $VAR
// references are left to os.ExpandEnv.
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv substitutes environment variable references in raw YAML bytes
// before parsing. It extends the teacher's plain os.ExpandEnv with
// ${VAR:-default} fallback syntax, since config files commonly need a
// default when a secret env var is unset in local/dev environments.
func ExpandEnv(data []byte) []byte {
	expanded := envRefPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		groups := envRefPattern.FindStringSubmatch(match)
		name, hasDefault, def := groups[1], groups[2] != "", groups[3]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		if hasDefault {
			return def
		}
		return ""
	})
	return []byte(os.ExpandEnv(expanded))
}
