package repo

import (
	"context"
	"database/sql"

	"inktrail/internal/domain"
)

const signatureCols = `id,document_version_id,signer_id,scope,pos_x,pos_y,page_number,width,height,method,status,access_code,retry_count,locked_until,signed_at,ip_address,user_agent`

func scanSignature(scan func(dest ...any) error) (domain.SignatureRecord, error) {
	var s domain.SignatureRecord
	var accessCode, lockedUntil, ip, ua sql.NullString
	err := scan(&s.ID, &s.DocumentVersionID, &s.SignerID, &s.Scope, &s.PositionX, &s.PositionY, &s.PageNumber,
		&s.Width, &s.Height, &s.Method, &s.Status, &accessCode, &s.RetryCount, &lockedUntil, &s.SignedAt, &ip, &ua)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.AccessCode = ptrIfValid(accessCode)
	s.LockedUntil = ptrIfValid(lockedUntil)
	s.IPAddress = ptrIfValid(ip)
	s.UserAgent = ptrIfValid(ua)
	return s, nil
}

func (r Repo) InsertSignature(ctx context.Context, tx *sql.Tx, s domain.SignatureRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO signature_records(`+signatureCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.DocumentVersionID, s.SignerID, s.Scope, s.PositionX, s.PositionY, s.PageNumber, s.Width, s.Height,
		s.Method, s.Status, nullableStringPtr(s.AccessCode), s.RetryCount, nullableStringPtr(s.LockedUntil),
		s.SignedAt, nullableStringPtr(s.IPAddress), nullableStringPtr(s.UserAgent))
	return err
}

func (r Repo) GetSignature(ctx context.Context, id string) (domain.SignatureRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+signatureCols+` FROM signature_records WHERE id=?`, id)
	return scanSignature(row.Scan)
}

// ListFinalizedSignatures returns finalized records for a version ordered by
// signing time ascending, the order a composite render consumes them in.
func (r Repo) ListFinalizedSignatures(ctx context.Context, versionID string) ([]domain.SignatureRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+signatureCols+` FROM signature_records WHERE document_version_id=? AND status='finalized' ORDER BY signed_at ASC, id ASC`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SignatureRecord
	for rows.Next() {
		s, err := scanSignature(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// IncrementRetryCount bumps the attempt counter, optionally setting a lockout
// deadline when the bump crosses the threshold. The counter only grows between
// successful unlocks.
func (r Repo) IncrementRetryCount(ctx context.Context, id string, lockedUntil *string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE signature_records SET retry_count=retry_count+1, locked_until=COALESCE(?, locked_until) WHERE id=?`,
		nullableStringPtr(lockedUntil), id)
	return err
}

// ResetRetryState clears the attempt counter and lockout in a single write.
func (r Repo) ResetRetryState(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE signature_records SET retry_count=0, locked_until=NULL WHERE id=?`, id)
	return err
}

// SetAccessCodeForVersionTx stamps the verification PIN on every finalized
// record of a version.
func (r Repo) SetAccessCodeForVersionTx(ctx context.Context, tx *sql.Tx, versionID, accessCode string) error {
	_, err := tx.ExecContext(ctx, `UPDATE signature_records SET access_code=? WHERE document_version_id=? AND status='finalized'`,
		nullable(accessCode), versionID)
	return err
}
