package agents

import "strings"

// NormalizeName turns a human-entered name into an agent id: trim,
// lowercase, collapse every run of non-alphanumerics into a single dash.
// Names with no usable characters are rejected.
func NormalizeName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", validationf("agent name is required")
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(trimmed) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if isAlnum {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			pendingDash = false
			continue
		}
		pendingDash = true
	}

	id := b.String()
	if id == "" {
		return "", validationf("agent name %q contains no letters or digits", name)
	}
	return id, nil
}

// IsNormalized reports whether id is already a valid kebab-case agent id.
func IsNormalized(id string) bool {
	norm, err := NormalizeName(id)
	return err == nil && norm == id
}
