package store

import (
	"context"
	"fmt"
	"time"

	"campusmarket/internal/db"
	"campusmarket/internal/models"

	"github.com/jackc/pgx/v5"
)

const payoutJobColumns = `id, order_id, status, run_at, attempts, last_error, created_at, updated_at`

func scanPayoutJob(row rowScanner) (*models.PayoutJob, error) {
	var j models.PayoutJob
	if err := row.Scan(&j.ID, &j.OrderID, &j.Status, &j.RunAt, &j.Attempts, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &j, nil
}

func (s *Store) GetPayoutJobByOrder(ctx context.Context, orderID string) (*models.PayoutJob, error) {
	return scanPayoutJob(s.Pool.QueryRow(ctx, "SELECT "+payoutJobColumns+" FROM payout_jobs WHERE order_id=$1", orderID))
}

// ClaimDuePayouts leases up to limit due jobs. Claimed rows are pushed out by
// lease so a crashed worker's jobs become due again; concurrent workers skip
// each other's locked rows.
func (s *Store) ClaimDuePayouts(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]models.PayoutJob, error) {
	rows, err := s.Pool.Query(ctx, `
		UPDATE payout_jobs SET run_at = $2, attempts = attempts + 1, updated_at = now()
		WHERE id IN (
			SELECT id FROM payout_jobs
			WHERE status='queued' AND run_at <= $1
			ORDER BY run_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+payoutJobColumns, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim payouts: %w", err)
	}
	defer rows.Close()

	var jobs []models.PayoutJob
	for rows.Next() {
		j, err := scanPayoutJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (s *Store) CompletePayout(ctx context.Context, job models.PayoutJob, ref string) error {
	return db.WithTx(ctx, s.Pool, db.DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE payout_jobs SET status='done', last_error='', updated_at=now() WHERE id=$1
		`, job.ID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE orders SET payout_status='completed', payout_ref=$2, version=version+1, updated_at=now()
			WHERE id=$1
		`, job.OrderID, ref)
		return err
	})
}

func (s *Store) RetryPayout(ctx context.Context, job models.PayoutJob, runAt time.Time, cause string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE payout_jobs SET run_at=$2, last_error=$3, updated_at=now() WHERE id=$1
	`, job.ID, runAt, cause)
	return err
}

func (s *Store) FailPayout(ctx context.Context, job models.PayoutJob, cause string) error {
	return db.WithTx(ctx, s.Pool, db.DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE payout_jobs SET status='failed', last_error=$2, updated_at=now() WHERE id=$1
		`, job.ID, cause); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE orders SET payout_status='failed', version=version+1, updated_at=now() WHERE id=$1
		`, job.OrderID)
		return err
	})
}
