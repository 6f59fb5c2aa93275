package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/flexprice/billingops/internal/domain/settlement"
	ierr "github.com/flexprice/billingops/internal/errors"
	"github.com/flexprice/billingops/internal/logger"
	"github.com/flexprice/billingops/internal/postgres"
	"github.com/flexprice/billingops/internal/types"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const manualCreditSchema = `
CREATE TABLE IF NOT EXISTS manual_credits (
	id          TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL,
	amount      BIGINT NOT NULL CHECK (amount > 0),
	currency    TEXT NOT NULL,
	metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_manual_credits_customer ON manual_credits (customer_id);
`

type manualCreditRepository struct {
	client *postgres.Client
	log    *logger.Logger
}

func NewManualCreditRepository(client *postgres.Client, log *logger.Logger) settlement.ManualCreditRepository {
	return &manualCreditRepository{client: client, log: log}
}

// EnsureSchema creates the manual credit table if it does not exist.
func EnsureSchema(ctx context.Context, client *postgres.Client) error {
	if _, err := client.Querier(ctx).ExecContext(ctx, manualCreditSchema); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to create manual_credits table").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *manualCreditRepository) Create(ctx context.Context, source *settlement.Source) error {
	if source.Ref.Kind != types.SettlementSourceKindManualCredit {
		return ierr.NewError("only manual credit sources are stored locally").
			WithHintf("Unexpected source kind %s", source.Ref.Kind).
			Mark(ierr.ErrValidation)
	}

	if source.Metadata == nil {
		source.Metadata = types.Metadata{}
	}
	md, err := json.Marshal(source.Metadata)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to encode manual credit metadata").
			Mark(ierr.ErrInternal)
	}
	if source.CreatedAt.IsZero() {
		source.CreatedAt = time.Now().UTC()
	}

	_, err = r.client.Querier(ctx).ExecContext(ctx, `
		INSERT INTO manual_credits (id, customer_id, amount, currency, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		source.Ref.ID, source.CustomerID, source.Amount, source.Currency, string(md), source.CreatedAt,
	)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to store manual credit").
			WithReportableDetails(map[string]interface{}{
				"manual_credit_id": source.Ref.ID,
			}).
			Mark(ierr.ErrDatabase)
	}

	r.log.Infow("stored manual credit",
		"manual_credit_id", source.Ref.ID,
		"customer_id", source.CustomerID,
		"amount", source.Amount)
	return nil
}

func (r *manualCreditRepository) Get(ctx context.Context, id string) (*settlement.Source, error) {
	var (
		src    settlement.Source
		rawMD  string
		status = types.ChargeStatusSucceeded
	)
	err := r.client.Querier(ctx).QueryRowContext(ctx, `
		SELECT id, customer_id, amount, currency, metadata, created_at
		FROM manual_credits WHERE id = $1`, id,
	).Scan(&src.Ref.ID, &src.CustomerID, &src.Amount, &src.Currency, &rawMD, &src.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ierr.NewError("manual credit not found").
			WithHintf("Manual credit %s does not exist", id).
			Mark(ierr.ErrNotFound)
	}
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to load manual credit").
			Mark(ierr.ErrDatabase)
	}

	src.Ref.Kind = types.SettlementSourceKindManualCredit
	src.Status = status
	src.Metadata = types.Metadata{}
	if err := json.UnmarshalFromString(rawMD, &src.Metadata); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Manual credit metadata is corrupt").
			Mark(ierr.ErrInternal)
	}
	return &src, nil
}

func (r *manualCreditRepository) UpdateMetadata(ctx context.Context, id string, md map[string]string) error {
	patch, err := json.Marshal(md)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to encode manual credit metadata").
			Mark(ierr.ErrInternal)
	}

	res, err := r.client.Querier(ctx).ExecContext(ctx, `
		UPDATE manual_credits SET metadata = metadata || $2::jsonb, updated_at = now()
		WHERE id = $1`, id, string(patch),
	)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update manual credit metadata").
			Mark(ierr.ErrDatabase)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ierr.NewError("manual credit not found").
			WithHintf("Manual credit %s does not exist", id).
			Mark(ierr.ErrNotFound)
	}
	return nil
}
