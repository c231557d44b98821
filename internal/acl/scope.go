package acl

import "fmt"

// Scope is the breadth of a policy grant, totally ordered from narrowest
// to broadest. The ordering is the only place scope semantics matter:
// when several roles grant the same permission, the broadest scope wins.
type Scope int

const (
	ScopeResource Scope = iota
	ScopeAccount
	ScopeDomain
	ScopeGlobal
)

// Broader reports whether s is strictly broader than other.
func (s Scope) Broader(other Scope) bool {
	return s > other
}

func (s Scope) String() string {
	switch s {
	case ScopeResource:
		return "resource"
	case ScopeAccount:
		return "account"
	case ScopeDomain:
		return "domain"
	case ScopeGlobal:
		return "global"
	}
	return fmt.Sprintf("scope(%d)", int(s))
}

// ParseScope maps the wire form of a scope back to its level.
func ParseScope(s string) (Scope, error) {
	switch s {
	case "resource":
		return ScopeResource, nil
	case "account":
		return ScopeAccount, nil
	case "domain":
		return ScopeDomain, nil
	case "global":
		return ScopeGlobal, nil
	}
	return 0, fmt.Errorf("unknown scope %q: %w", s, ErrInvalidParameter)
}
