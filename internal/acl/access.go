package acl

import "fmt"

// AccessType is the kind of operation being authorized against a
// resource.
type AccessType string

const (
	AccessRead   AccessType = "read"
	AccessUse    AccessType = "use"
	AccessModify AccessType = "modify"
)

// ParseAccessType validates the wire form of an access type.
func ParseAccessType(s string) (AccessType, error) {
	switch AccessType(s) {
	case AccessRead, AccessUse, AccessModify:
		return AccessType(s), nil
	}
	return "", fmt.Errorf("unknown access type %q: %w", s, ErrInvalidParameter)
}
