package domain

import "time"

// Identity is the authenticated subject as reported by the identity provider.
type Identity struct {
	SubjectID   string `json:"subject_id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// CachedSession is the last known identity persisted by the session cache.
// Records are replaced whole, never merged.
type CachedSession struct {
	SubjectID   string    `json:"subjectId"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	CachedAt    time.Time `json:"cachedAt"`

	// Verifier is an argon2id hash of the password the session was
	// established with. Empty unless the gateway checks cached credentials.
	Verifier string `json:"verifier,omitempty"`
}

// NewCachedSession snapshots id. CachedAt is left zero so the cache stamps it.
func NewCachedSession(id Identity) CachedSession {
	return CachedSession{
		SubjectID:   id.SubjectID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
	}
}

// Identity returns the identity portion of the cached record.
func (s CachedSession) Identity() Identity {
	return Identity{
		SubjectID:   s.SubjectID,
		Email:       s.Email,
		DisplayName: s.DisplayName,
	}
}

// Age reports how long ago the record was written.
func (s CachedSession) Age(now time.Time) time.Duration {
	return now.Sub(s.CachedAt)
}
