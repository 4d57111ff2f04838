package model

import (
	"time"
)

// CredentialRecord is one piece of persisted session material for an account.
// The full record set for an account reconstructs a protocol session without
// re-pairing. Value holds the serialized envelope; see the credentials package
// for its format.
type CredentialRecord struct {
	OrganizationID string    `db:"organization_id" json:"organizationId"`
	AccountKey     string    `db:"account_key" json:"accountKey"`
	RecordKey      string    `db:"record_key" json:"recordKey"`
	Value          string    `db:"value" json:"-"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}
