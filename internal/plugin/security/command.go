package security

import (
	"strings"
	"unicode"
)

// shellMeta are characters rejected in console commands.
const shellMeta = ";&|`$<>"

// CommandPolicy filters console commands by their first word. A non-empty
// allow list admits only listed commands; the deny list always wins.
type CommandPolicy struct {
	Allow     []string
	Deny      []string
	MaxLength int
}

// SanitizeCommand trims cmd and rejects control characters and shell
// metacharacters.
func SanitizeCommand(cmd string, maxLen int) (string, error) {
	cmd = strings.TrimSpace(cmd)
	cmd = strings.TrimPrefix(cmd, "/")
	if cmd == "" {
		return "", &ValidationError{Field: "command", Reason: "empty command"}
	}
	if maxLen > 0 && len(cmd) > maxLen {
		return "", &LimitError{Resource: "command length", Limit: int64(maxLen), Actual: int64(len(cmd))}
	}
	for _, r := range cmd {
		if unicode.IsControl(r) {
			return "", &ValidationError{Field: "command", Value: cmd, Reason: "contains control characters"}
		}
		if strings.ContainsRune(shellMeta, r) {
			return "", &ValidationError{Field: "command", Value: cmd, Reason: "contains shell metacharacter " + string(r)}
		}
	}
	return cmd, nil
}

// Check sanitizes cmd and applies the allow and deny lists.
func (p CommandPolicy) Check(cmd string) (string, error) {
	clean, err := SanitizeCommand(cmd, p.MaxLength)
	if err != nil {
		return "", err
	}
	word := strings.ToLower(strings.Fields(clean)[0])
	for _, d := range p.Deny {
		if strings.EqualFold(strings.TrimPrefix(d, "/"), word) {
			return "", &ValidationError{Field: "command", Value: word, Reason: "denied by host policy"}
		}
	}
	if len(p.Allow) == 0 {
		return clean, nil
	}
	for _, a := range p.Allow {
		if strings.EqualFold(strings.TrimPrefix(a, "/"), word) {
			return clean, nil
		}
	}
	return "", &ValidationError{Field: "command", Value: word, Reason: "not in host allow list"}
}
