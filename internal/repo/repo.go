package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"inktrail/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func ptrIfValid(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// --- documents ---

const documentCols = `id,title,status,owner_id,group_id,current_version_id,signed_url,created_at,updated_at`

func scanDocument(scan func(dest ...any) error) (domain.Document, error) {
	var d domain.Document
	var groupID, currentVersion, signedURL sql.NullString
	err := scan(&d.ID, &d.Title, &d.Status, &d.OwnerID, &groupID, &currentVersion, &signedURL, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.GroupID = ptrIfValid(groupID)
	d.CurrentVersionID = ptrIfValid(currentVersion)
	d.SignedURL = ptrIfValid(signedURL)
	return d, nil
}

func (r Repo) InsertDocument(ctx context.Context, d domain.Document) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO documents(`+documentCols+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		d.ID, d.Title, d.Status, d.OwnerID, nullableStringPtr(d.GroupID), nullableStringPtr(d.CurrentVersionID),
		nullableStringPtr(d.SignedURL), d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+documentCols+` FROM documents WHERE id=?`, id)
	return scanDocument(row.Scan)
}

func (r Repo) GetDocumentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Document, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+documentCols+` FROM documents WHERE id=?`, id)
	return scanDocument(row.Scan)
}

type DocumentFilters struct {
	OwnerID         string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListDocuments(ctx context.Context, f DocumentFilters) ([]domain.Document, error) {
	var clauses []string
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + documentCols + ` FROM documents ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// FinalizeDocumentTx flips the document to completed and records the signed
// artifact location in one write.
func (r Repo) FinalizeDocumentTx(ctx context.Context, tx *sql.Tx, id, currentVersionID, signedURL, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE documents SET status=?, current_version_id=?, signed_url=?, updated_at=? WHERE id=?`,
		domain.DocumentCompleted, currentVersionID, signedURL, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateDocumentStatus(ctx context.Context, id, status, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE documents SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateDocumentStatusTx(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE documents SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	return err
}

// --- document versions ---

const versionCols = `id,document_id,url,content_hash,signed_content_hash,owner_id,created_at`

func scanVersion(scan func(dest ...any) error) (domain.DocumentVersion, error) {
	var v domain.DocumentVersion
	var contentHash, signedHash sql.NullString
	err := scan(&v.ID, &v.DocumentID, &v.URL, &contentHash, &signedHash, &v.OwnerID, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.ContentHash = ptrIfValid(contentHash)
	v.SignedContentHash = ptrIfValid(signedHash)
	return v, nil
}

func (r Repo) InsertVersion(ctx context.Context, v domain.DocumentVersion) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO document_versions(`+versionCols+`) VALUES (?,?,?,?,?,?,?)`,
		v.ID, v.DocumentID, v.URL, nullableStringPtr(v.ContentHash), nullableStringPtr(v.SignedContentHash), v.OwnerID, v.CreatedAt)
	return err
}

func (r Repo) GetVersion(ctx context.Context, id string) (domain.DocumentVersion, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+versionCols+` FROM document_versions WHERE id=?`, id)
	return scanVersion(row.Scan)
}

func (r Repo) ListVersions(ctx context.Context, documentID string) ([]domain.DocumentVersion, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+versionCols+` FROM document_versions WHERE document_id=? ORDER BY created_at DESC, id DESC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DocumentVersion
	for rows.Next() {
		v, err := scanVersion(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// SealVersionTx writes the rendered artifact location and signed hash onto a
// version. A sealed version is immutable; this is the only mutation allowed.
func (r Repo) SealVersionTx(ctx context.Context, tx *sql.Tx, id, url, signedContentHash string) error {
	res, err := tx.ExecContext(ctx, `UPDATE document_versions SET url=?, signed_content_hash=? WHERE id=? AND signed_content_hash IS NULL`,
		url, signedContentHash, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("version %s already sealed or missing", id)
	}
	return nil
}

// DeleteVersion removes a version row. Compensating action only; never called
// on a sealed version.
func (r Repo) DeleteVersion(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM document_versions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
