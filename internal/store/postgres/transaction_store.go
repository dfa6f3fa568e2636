package postgres

import (
	"context"
	"errors"

	"github.com/ReceiptRadar/receipt-radar-backend/internal/store"
	"github.com/ReceiptRadar/receipt-radar-backend/types"
	"github.com/jackc/pgx/v5"
)

// TransactionStore implements store.TransactionStore using PostgreSQL. The
// pipeline only reads from the ledger; transaction writes happen elsewhere.
type TransactionStore struct {
	db DB
}

// NewTransactionStore creates a new TransactionStore instance.
func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

// GetTransaction retrieves a single ledger transaction by ID.
func (s *TransactionStore) GetTransaction(ctx context.Context, id string) (*types.Transaction, error) {
	query := `
		SELECT id, user_id, description, amount, currency, transaction_date, created_at
		FROM transactions
		WHERE id = $1`

	txn := &types.Transaction{}
	err := s.db.QueryRow(ctx, query, id).Scan(
		&txn.ID,
		&txn.UserID,
		&txn.Description,
		&txn.Amount,
		&txn.Currency,
		&txn.Date,
		&txn.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	return txn, nil
}

// ListCandidates returns the user's transactions within the filter's date
// window and amount band, capped at filter.Limit. The amount band is skipped
// when no amount was extracted.
func (s *TransactionStore) ListCandidates(ctx context.Context, userID string, filter store.CandidateFilter) ([]types.Transaction, error) {
	query := `
		SELECT id, user_id, description, amount, currency, transaction_date, created_at
		FROM transactions
		WHERE user_id = $1
		  AND transaction_date BETWEEN $2 AND $3
		  AND ($4::numeric IS NULL OR amount BETWEEN $4 AND $5)
		ORDER BY transaction_date DESC
		LIMIT $6`

	rows, err := s.db.Query(ctx, query,
		userID,
		filter.DateFrom,
		filter.DateTo,
		filter.AmountMin,
		filter.AmountMax,
		filter.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []types.Transaction
	for rows.Next() {
		var txn types.Transaction
		err := rows.Scan(
			&txn.ID,
			&txn.UserID,
			&txn.Description,
			&txn.Amount,
			&txn.Currency,
			&txn.Date,
			&txn.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return txns, nil
}
