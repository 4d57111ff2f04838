package repository

import (
	"context"

	"github.com/chatbridge/session-server-go/internal/database"
	"github.com/chatbridge/session-server-go/internal/model"
)

type CredentialRepository interface {
	ListByAccount(ctx context.Context, organizationID, accountKey string) ([]model.CredentialRecord, error)
	Upsert(ctx context.Context, record model.CredentialRecord) error
	Delete(ctx context.Context, organizationID, accountKey, recordKey string) error
	// DeleteAllForAccount purges every record scoped to one account. Only the
	// terminal logout transition calls this.
	DeleteAllForAccount(ctx context.Context, organizationID, accountKey string) (int64, error)
}

type credentialRepo struct {
	db database.DBTX
}

func NewCredentialRepository(db database.DBTX) CredentialRepository {
	return &credentialRepo{db: db}
}

func (r *credentialRepo) ListByAccount(ctx context.Context, organizationID, accountKey string) ([]model.CredentialRecord, error) {
	var records []model.CredentialRecord
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM credential_records
		WHERE organization_id = $1 AND account_key = $2
	`, organizationID, accountKey)
	return records, err
}

func (r *credentialRepo) Upsert(ctx context.Context, record model.CredentialRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credential_records (organization_id, account_key, record_key, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, account_key, record_key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()
	`, record.OrganizationID, record.AccountKey, record.RecordKey, record.Value)
	return err
}

func (r *credentialRepo) Delete(ctx context.Context, organizationID, accountKey, recordKey string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM credential_records
		WHERE organization_id = $1 AND account_key = $2 AND record_key = $3
	`, organizationID, accountKey, recordKey)
	return err
}

func (r *credentialRepo) DeleteAllForAccount(ctx context.Context, organizationID, accountKey string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM credential_records
		WHERE organization_id = $1 AND account_key = $2
	`, organizationID, accountKey)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
