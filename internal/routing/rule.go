package routing

import (
	"errors"
	"fmt"
)

// Rule orders the transports a message may go through: Primary first,
// then Fallbacks in order.
type Rule struct {
	Primary   string
	Fallbacks []string
}

// Validate checks that a primary is set and no transport is listed twice.
func (r Rule) Validate() error {
	if r.Primary == "" {
		return errors.New("primary provider is required")
	}
	seen := map[string]bool{r.Primary: true}
	for _, name := range r.Fallbacks {
		if name == "" {
			return errors.New("fallback provider name is empty")
		}
		if seen[name] {
			return fmt.Errorf("provider %s listed more than once", name)
		}
		seen[name] = true
	}
	return nil
}

func (r Rule) candidates() []string {
	return append([]string{r.Primary}, r.Fallbacks...)
}
