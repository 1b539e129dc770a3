// Package numbering issues formatted document numbers unique per tenant and
// document type. The rest of the suite treats this as a collaborator: callers
// trust the returned string and never retry on collision.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Document types known to the ledger core.
const (
	DocTypeJournalEntry = "journal_entry"
	DocTypePayment      = "payment"
)

// Source hands out the next unique number for (tenant, docType).
type Source interface {
	Next(ctx context.Context, tenantID int64, docType string) (string, error)
}

// Format renders a sequence value into the suite's document number shape,
// e.g. "JE-2026-00042".
func Format(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%05d", prefix, year, seq)
}

// PGSource implements Source on top of a document_sequences table. The row
// is taken FOR UPDATE so concurrent callers serialize per (tenant, type).
type PGSource struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPGSource returns a database backed Source.
func NewPGSource(pool *pgxpool.Pool) *PGSource {
	return &PGSource{pool: pool, now: time.Now}
}

// Next claims and returns the next formatted number.
func (s *PGSource) Next(ctx context.Context, tenantID int64, docType string) (string, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("numbering: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const selectSeq = `SELECT prefix, next_value FROM document_sequences
WHERE tenant_id=$1 AND doc_type=$2 FOR UPDATE`

	var prefix string
	var next int64
	err = tx.QueryRow(ctx, selectSeq, tenantID, docType).Scan(&prefix, &next)
	if errors.Is(err, pgx.ErrNoRows) {
		// First use for this (tenant, docType). Two concurrent callers can
		// both miss the row; ON CONFLICT lets the loser fall through to the
		// winner's row instead of surfacing a unique violation.
		if _, err := tx.Exec(ctx, `INSERT INTO document_sequences (tenant_id, doc_type, prefix, next_value)
VALUES ($1,$2,$3,1) ON CONFLICT (tenant_id, doc_type) DO NOTHING`, tenantID, docType, defaultPrefix(docType)); err != nil {
			return "", fmt.Errorf("numbering: seed sequence: %w", err)
		}
		err = tx.QueryRow(ctx, selectSeq, tenantID, docType).Scan(&prefix, &next)
	}
	if err != nil {
		return "", fmt.Errorf("numbering: load sequence: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE document_sequences SET next_value=next_value+1
WHERE tenant_id=$1 AND doc_type=$2`, tenantID, docType); err != nil {
		return "", fmt.Errorf("numbering: advance sequence: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("numbering: commit: %w", err)
	}
	return Format(prefix, s.now().Year(), next), nil
}

func defaultPrefix(docType string) string {
	switch docType {
	case DocTypeJournalEntry:
		return "JE"
	case DocTypePayment:
		return "PAY"
	default:
		return "DOC"
	}
}
