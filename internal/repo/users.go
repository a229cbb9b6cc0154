package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"inktrail/internal/domain"
)

// HashToken returns a stable SHA-256 hex digest for a credential. Raw refresh
// tokens are never persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	if u.ID == "" {
		return errors.New("id required")
	}
	if u.Email == "" {
		return errors.New("email required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,name,email,created_at) VALUES (?,?,?,?)`,
		u.ID, u.Name, u.Email, u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,name,email,created_at FROM users WHERE id=?`, id)
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,name,email,created_at FROM users WHERE email=?`, email)
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

// --- sessions ---

func (r Repo) InsertSession(ctx context.Context, s domain.Session) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sessions(id,user_id,refresh_hash,expires_at,created_at) VALUES (?,?,?,?,?)`,
		s.ID, s.UserID, s.RefreshHash, s.ExpiresAt, s.CreatedAt)
	return err
}

func (r Repo) GetSessionByRefreshHash(ctx context.Context, hash string) (domain.Session, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,user_id,refresh_hash,expires_at,created_at FROM sessions WHERE refresh_hash=?`, hash)
	var s domain.Session
	err := row.Scan(&s.ID, &s.UserID, &s.RefreshHash, &s.ExpiresAt, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// RotateSession swaps the refresh credential and extends the expiry in one
// write.
func (r Repo) RotateSession(ctx context.Context, id, newRefreshHash, expiresAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE sessions SET refresh_hash=?, expires_at=? WHERE id=?`, newRefreshHash, expiresAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteSession(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	return err
}

// --- audit events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if limit <= 0 {
		limit = 20
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events `+where+` ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entity, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entity, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entity.Valid {
			e.EntityID = entity.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
