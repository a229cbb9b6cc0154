package repo

import (
	"context"
	"database/sql"

	"inktrail/internal/domain"
)

const groupSignerCols = `document_id,user_id,status,sign_order,signature_id,updated_at`

func scanGroupSigner(scan func(dest ...any) error) (domain.GroupSigner, error) {
	var g domain.GroupSigner
	var signatureID sql.NullString
	err := scan(&g.DocumentID, &g.UserID, &g.Status, &g.SignOrder, &signatureID, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	g.SignatureID = ptrIfValid(signatureID)
	return g, nil
}

// InsertGroupSignerTx registers one signer obligation. Duplicate
// (document, user) pairs are silently ignored.
func (r Repo) InsertGroupSignerTx(ctx context.Context, tx *sql.Tx, g domain.GroupSigner) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO group_signers(`+groupSignerCols+`) VALUES (?,?,?,?,?,?)`,
		g.DocumentID, g.UserID, g.Status, g.SignOrder, nullableStringPtr(g.SignatureID), g.UpdatedAt)
	return err
}

func (r Repo) GetGroupSigner(ctx context.Context, documentID, userID string) (domain.GroupSigner, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+groupSignerCols+` FROM group_signers WHERE document_id=? AND user_id=?`, documentID, userID)
	return scanGroupSigner(row.Scan)
}

func (r Repo) ListGroupSigners(ctx context.Context, documentID string) ([]domain.GroupSigner, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+groupSignerCols+` FROM group_signers WHERE document_id=? ORDER BY sign_order ASC, user_id ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.GroupSigner
	for rows.Next() {
		g, err := scanGroupSigner(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

// SetGroupSignerStatusTx transitions one roster row and links its signature.
func (r Repo) SetGroupSignerStatusTx(ctx context.Context, tx *sql.Tx, documentID, userID, status string, signatureID *string, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE group_signers SET status=?, signature_id=?, updated_at=? WHERE document_id=? AND user_id=?`,
		status, nullableStringPtr(signatureID), updatedAt, documentID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountPendingSignersTx counts roster rows still awaiting a signature, inside
// the same transaction that recorded the latest one.
func (r Repo) CountPendingSignersTx(ctx context.Context, tx *sql.Tx, documentID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM group_signers WHERE document_id=? AND status=?`, documentID, domain.SignerPending).Scan(&n)
	return n, err
}

func (r Repo) CountPendingSigners(ctx context.Context, documentID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM group_signers WHERE document_id=? AND status=?`, documentID, domain.SignerPending).Scan(&n)
	return n, err
}

// MaxSignOrder returns the highest order assigned so far, 0 when none.
func (r Repo) MaxSignOrder(ctx context.Context, documentID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(sign_order),0) FROM group_signers WHERE document_id=?`, documentID).Scan(&n)
	return n, err
}

// DeleteGroupSignerTx removes one roster row. Callers enforce the
// PENDING-only rule before calling.
func (r Repo) DeleteGroupSignerTx(ctx context.Context, tx *sql.Tx, documentID, userID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM group_signers WHERE document_id=? AND user_id=?`, documentID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetGroupSignersTx returns every roster row to PENDING and clears the
// signature links. Used when a document edit invalidates collected signatures.
func (r Repo) ResetGroupSignersTx(ctx context.Context, tx *sql.Tx, documentID, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE group_signers SET status=?, signature_id=NULL, updated_at=? WHERE document_id=?`,
		domain.SignerPending, updatedAt, documentID)
	return err
}
