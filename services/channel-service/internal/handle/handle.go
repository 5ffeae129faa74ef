// Package handle holds the format rules for channel and profile handles.
package handle

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	MinLen = 3
	MaxLen = 30
)

var pattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// reservedPrefixes can never be claimed by users.
var reservedPrefixes = []string{"admin", "clipdeck", "system"}

// Validate checks handle format: 3-30 chars, lowercase alphanumerics plus
// '.', '_' and '-', must start alphanumeric and not end with a separator.
func Validate(h string) error {
	if len(h) < MinLen || len(h) > MaxLen {
		return fmt.Errorf("handle must be %d-%d characters, got %d", MinLen, MaxLen, len(h))
	}
	if !pattern.MatchString(h) {
		return fmt.Errorf("handle may only contain lowercase letters, digits, '.', '_' and '-', and must start with a letter or digit")
	}
	switch h[len(h)-1] {
	case '.', '_', '-':
		return fmt.Errorf("handle must not end with a separator")
	}
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(h, prefix) {
			return fmt.Errorf("handle prefix %q is reserved", prefix)
		}
	}
	return nil
}
