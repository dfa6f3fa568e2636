package types

import "time"

// MatchStatus distinguishes automatically confirmed matches from suggestions
// awaiting human review.
type MatchStatus string

const (
	MatchStatusAutomatic MatchStatus = "automatic"
	MatchStatusSuggested MatchStatus = "suggested"
)

// FactorScores holds the per-factor scores that produced a match confidence.
// All values are integers in [0, 100].
type FactorScores struct {
	Vendor   int `json:"vendor"`
	Amount   int `json:"amount"`
	Date     int `json:"date"`
	Currency int `json:"currency"`
}

// Match links a document to a ledger transaction with a confidence score.
// Match records are immutable once written.
type Match struct {
	ID            string       `json:"id"`
	DocumentID    string       `json:"documentId"`
	TransactionID string       `json:"transactionId"`
	Confidence    int          `json:"confidence"`
	Status        MatchStatus  `json:"status"`
	Scores        FactorScores `json:"scores"`
	Reasons       []string     `json:"reasons,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// MatchWithTransaction carries the candidate transaction alongside the match,
// for review UIs.
type MatchWithTransaction struct {
	Match
	Transaction Transaction `json:"transaction"`
}

// MatchResult is the outcome of running the matching stage for one document.
type MatchResult struct {
	DocumentID   string  `json:"documentId"`
	Matches      []Match `json:"matches"`
	AutoMatched  bool    `json:"autoMatched"`
	QueueItemID  *string `json:"queueItemId,omitempty"`
	BestScore    int     `json:"bestScore"`
	CandidateNum int     `json:"candidateCount"`
}
