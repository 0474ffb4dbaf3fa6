package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mrlongruoi/echo-desk/internal/apperr"
	"github.com/mrlongruoi/echo-desk/internal/domain"
)

// ValidateOrganization checks that an organization exists in the external
// directory. This runs pre-auth on the widget: a wrong embed id must produce
// a clear answer, not an error page.
func (s *Service) ValidateOrganization(ctx context.Context, orgID string) (bool, string, error) {
	if orgID == "" {
		return false, "organization id is required", nil
	}
	if s.resolver == nil {
		return false, "", fmt.Errorf("organization directory not configured")
	}

	org, err := s.resolver.GetOrganization(ctx, orgID)
	if err != nil {
		return false, "", fmt.Errorf("validate organization: %w", err)
	}
	if org == nil {
		return false, "organization is invalid", nil
	}
	return true, "", nil
}

// CreateContactSession issues a new time-boxed session for a visitor of one
// organization's widget. The organization must exist.
func (s *Service) CreateContactSession(ctx context.Context, orgID, name, email string) (*domain.ContactSession, error) {
	valid, reason, err := s.ValidateOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, apperr.BadRequest(reason)
	}

	now := time.Now()
	session := &domain.ContactSession{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Name:           name,
		Email:          email,
		ExpiresAt:      now.Add(s.sessionTTL),
		CreatedAt:      now,
	}
	if err := s.repo.CreateContactSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create contact session: %w", err)
	}
	return session, nil
}
