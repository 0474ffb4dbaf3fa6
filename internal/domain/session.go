package domain

import "time"

// ContactSession is an anonymous visitor's time-boxed credential for one
// organization's chat widget. An expired session must be treated exactly like
// a missing one by every consumer.
type ContactSession struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name,omitempty"`
	Email          string    `json:"email,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Expired reports whether the session's expiry has passed at the given
// wall-clock instant.
func (s *ContactSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
