package model

import (
	"time"
)

type Account struct {
	ID               string        `db:"id" json:"id"`
	OrganizationID   string        `db:"organization_id" json:"organizationId"`
	ExternalIdentity *string       `db:"external_identity" json:"externalIdentity,omitempty"`
	Status           AccountStatus `db:"status" json:"status"`
	PairingCode      *string       `db:"pairing_code" json:"pairingCode,omitempty"`
	LastConnectedAt  *time.Time    `db:"last_connected_at" json:"lastConnectedAt,omitempty"`
	CreatedAt        time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updatedAt"`
}

type UpdateAccountStatusParams struct {
	Status           AccountStatus
	PairingCode      *string
	ExternalIdentity *string
	ConnectedNow     bool
}
