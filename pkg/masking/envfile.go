package masking

import "strings"

// sensitiveEnvKeys flags KEY=VALUE lines whose key names a credential.
var sensitiveEnvKeys = []string{
	"key", "token", "secret", "password", "passwd", "credential",
}

// EnvFileMasker masks values of secret-looking keys in dotenv-style
// KEY=VALUE content (tool results that read .env files or dump process
// environments) while leaving ordinary variables intact.
type EnvFileMasker struct{}

// Name implements Masker.
func (m *EnvFileMasker) Name() string { return "env_file" }

// AppliesTo implements Masker: any KEY=VALUE line is enough to engage.
func (m *EnvFileMasker) AppliesTo(data string) bool {
	for _, line := range strings.Split(data, "\n") {
		if isEnvAssignment(line) {
			return true
		}
	}
	return false
}

// Mask implements Masker.
func (m *EnvFileMasker) Mask(data string) string {
	lines := strings.Split(data, "\n")
	for i, line := range lines {
		if !isEnvAssignment(line) {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		rest := strings.TrimSpace(line)
		prefix := indent
		if strings.HasPrefix(rest, "export ") {
			prefix += "export "
			rest = strings.TrimPrefix(rest, "export ")
		}
		key, _, _ := strings.Cut(rest, "=")
		if !isSensitiveKey(key) {
			continue
		}
		lines[i] = prefix + key + "=***MASKED***"
	}
	return strings.Join(lines, "\n")
}

// isEnvAssignment accepts SHOUTY_SNAKE=anything lines, optionally
// indented or exported.
func isEnvAssignment(line string) bool {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimPrefix(trimmed, "export ")
	key, _, found := strings.Cut(trimmed, "=")
	if !found || key == "" {
		return false
	}
	for _, r := range key {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range sensitiveEnvKeys {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
