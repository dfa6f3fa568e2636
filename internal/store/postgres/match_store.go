package postgres

import (
	"context"

	"github.com/ReceiptRadar/receipt-radar-backend/internal/store"
	"github.com/ReceiptRadar/receipt-radar-backend/types"
)

// MatchStore implements store.MatchStore using PostgreSQL. A unique index on
// (document_id, transaction_id) enforces at most one match per pair.
type MatchStore struct {
	db DB
}

// NewMatchStore creates a new MatchStore instance.
func NewMatchStore(db DB) *MatchStore {
	return &MatchStore{db: db}
}

// CreateMatches inserts a batch of match records. Matches are immutable;
// there is no corresponding update path. A duplicate document/transaction
// pair surfaces as store.ErrConflict.
func (s *MatchStore) CreateMatches(ctx context.Context, matches []types.Match) error {
	query := `
		INSERT INTO matches (document_id, transaction_id, confidence, status,
		                     vendor_score, amount_score, date_score, currency_score, reasons)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	for i := range matches {
		m := &matches[i]
		err := s.db.QueryRow(ctx, query,
			m.DocumentID,
			m.TransactionID,
			m.Confidence,
			m.Status,
			m.Scores.Vendor,
			m.Scores.Amount,
			m.Scores.Date,
			m.Scores.Currency,
			m.Reasons,
		).Scan(&m.ID, &m.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrConflict
			}
			return err
		}
	}

	return nil
}

// ListByDocumentID returns all matches for a document ordered by confidence
// descending.
func (s *MatchStore) ListByDocumentID(ctx context.Context, documentID string) ([]types.Match, error) {
	query := `
		SELECT id, document_id, transaction_id, confidence, status,
		       vendor_score, amount_score, date_score, currency_score, reasons, created_at
		FROM matches
		WHERE document_id = $1
		ORDER BY confidence DESC, created_at ASC`

	rows, err := s.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []types.Match
	for rows.Next() {
		var m types.Match
		err := rows.Scan(
			&m.ID,
			&m.DocumentID,
			&m.TransactionID,
			&m.Confidence,
			&m.Status,
			&m.Scores.Vendor,
			&m.Scores.Amount,
			&m.Scores.Date,
			&m.Scores.Currency,
			&m.Reasons,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return matches, nil
}

// ListWithTransactions returns matches joined with their candidate
// transactions, ordered by confidence descending.
func (s *MatchStore) ListWithTransactions(ctx context.Context, documentID string) ([]types.MatchWithTransaction, error) {
	query := `
		SELECT m.id, m.document_id, m.transaction_id, m.confidence, m.status,
		       m.vendor_score, m.amount_score, m.date_score, m.currency_score, m.reasons, m.created_at,
		       t.id, t.user_id, t.description, t.amount, t.currency, t.transaction_date, t.created_at
		FROM matches m
		JOIN transactions t ON t.id = m.transaction_id
		WHERE m.document_id = $1
		ORDER BY m.confidence DESC, m.created_at ASC`

	rows, err := s.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []types.MatchWithTransaction
	for rows.Next() {
		var mwt types.MatchWithTransaction
		err := rows.Scan(
			&mwt.ID,
			&mwt.DocumentID,
			&mwt.TransactionID,
			&mwt.Confidence,
			&mwt.Status,
			&mwt.Scores.Vendor,
			&mwt.Scores.Amount,
			&mwt.Scores.Date,
			&mwt.Scores.Currency,
			&mwt.Reasons,
			&mwt.CreatedAt,
			&mwt.Transaction.ID,
			&mwt.Transaction.UserID,
			&mwt.Transaction.Description,
			&mwt.Transaction.Amount,
			&mwt.Transaction.Currency,
			&mwt.Transaction.Date,
			&mwt.Transaction.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		results = append(results, mwt)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}
