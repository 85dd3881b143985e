package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go
// templates. The {{.VAR_NAME}} syntax avoids colliding with literal $
// characters that masking regexes and shell snippets legitimately contain
// (`^secret.*$`, `$PATH`).
//
// Examples:
//   - {{.COLONYFORGE_API_KEY}} → value of COLONYFORGE_API_KEY
//   - {{.OLLAMA_BASE_URL}}/v1  → expanded base URL with a literal suffix
//
// Missing variables expand to empty string; validation catches required
// fields left empty. On a malformed template the original bytes pass
// through so the YAML parser can produce its own error.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		// Split on the first = only; values may contain = themselves.
		if idx := strings.IndexByte(env, '='); idx > 0 {
			envMap[env[:idx]] = env[idx+1:]
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}
	return buf.Bytes()
}
