package acl

import (
	"context"
	"fmt"
)

// DomainChecker is the default AccessChecker: root admins pass everywhere,
// every other caller is confined to its own domain, and operations that
// demand administration additionally require a domain-admin account type.
type DomainChecker struct {
	directory Directory
}

func NewDomainChecker(directory Directory) *DomainChecker {
	return &DomainChecker{directory: directory}
}

// IsRootAdmin reports whether the account is a platform root admin.
func (c *DomainChecker) IsRootAdmin(ctx context.Context, accountID int64) (bool, error) {
	account, err := c.directory.FindAccount(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("look up account %d: %w", accountID, err)
	}
	if account == nil {
		return false, nil
	}
	return account.Type == AccountTypeRootAdmin, nil
}

// CheckAccess refuses with an ErrPermissionDenied wrap unless the caller
// may operate on the subject. domainOverride, when non-zero, replaces the
// subject's own domain for the check.
func (c *DomainChecker) CheckAccess(ctx context.Context, caller Caller, domainOverride int64, mustBeAdmin bool, subject ControlledEntity) error {
	account, err := c.directory.FindAccount(ctx, caller.AccountID)
	if err != nil {
		return fmt.Errorf("look up caller %d: %w", caller.AccountID, err)
	}
	if account == nil {
		return fmt.Errorf("caller account %d does not exist: %w", caller.AccountID, ErrPermissionDenied)
	}
	if account.Type == AccountTypeRootAdmin {
		return nil
	}

	subjectDomain := subject.EntityDomainID()
	if domainOverride != 0 {
		subjectDomain = domainOverride
	}
	if subjectDomain != caller.DomainID {
		return fmt.Errorf("account %d cannot operate on domain %d: %w", caller.AccountID, subjectDomain, ErrPermissionDenied)
	}
	if mustBeAdmin && account.Type != AccountTypeDomainAdmin {
		return fmt.Errorf("account %d is not an administrator of domain %d: %w", caller.AccountID, subjectDomain, ErrPermissionDenied)
	}
	return nil
}
