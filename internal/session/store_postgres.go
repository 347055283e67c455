package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bankcri/pkg/sentinel"
)

// Schema creates the session tables. Applied by deployments and by the
// integration tests against a throwaway container.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id                 UUID PRIMARY KEY,
    client_id                  TEXT NOT NULL,
    client_session_id          TEXT NOT NULL,
    redirect_uri               TEXT NOT NULL,
    state                      TEXT NOT NULL,
    subject                    TEXT NOT NULL,
    auth_session_state         TEXT NOT NULL,
    created_date               TIMESTAMPTZ NOT NULL,
    expiry_date                TIMESTAMPTZ NOT NULL,
    authorization_code         TEXT,
    authorization_code_expiry  TIMESTAMPTZ,
    access_token_expiry        TIMESTAMPTZ,
    attempt_count              INTEGER NOT NULL DEFAULT 0,
    vendor_uuid                TEXT,
    check_result               TEXT,
    client_ip_address          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS sessions_authorization_code_idx
    ON sessions (authorization_code) WHERE authorization_code IS NOT NULL;

CREATE TABLE IF NOT EXISTS person_identity (
    session_id      UUID PRIMARY KEY REFERENCES sessions (session_id),
    name_parts      JSONB NOT NULL,
    birth_date      TEXT,
    sort_code       TEXT NOT NULL DEFAULT '',
    account_number  TEXT NOT NULL DEFAULT '',
    created_date    TIMESTAMPTZ NOT NULL,
    expiry_date     TIMESTAMPTZ NOT NULL
);
`

// PostgresStore persists sessions in PostgreSQL. All mutations are targeted
// field-level UPDATEs; state transitions carry their expected-state guard in
// the WHERE clause so the check and the write are one statement.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

// EnsureSchema applies the table definitions.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

const sessionColumns = `session_id, client_id, client_session_id, redirect_uri, state, subject,
	auth_session_state, created_date, expiry_date, authorization_code,
	authorization_code_expiry, access_token_expiry, attempt_count, vendor_uuid,
	check_result, client_ip_address`

func (s *PostgresStore) Create(ctx context.Context, sess *Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		sess.ID, sess.ClientID, sess.ClientSessionID, sess.RedirectURI, sess.State,
		sess.Subject, sess.AuthSessionState, sess.CreatedDate, sess.ExpiryDate,
		sess.AuthorizationCode, sess.AuthorizationCodeExpiry, sess.AccessTokenExpiry,
		sess.AttemptCount, sess.VendorUUID, nullableResult(sess.CheckResult), sess.ClientIPAddress)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`, id)
	return s.scanSession(row)
}

func (s *PostgresStore) GetByAuthorizationCode(ctx context.Context, code string) (*Session, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE authorization_code = $1`, code)
	if err != nil {
		return nil, fmt.Errorf("query by authorization code: %w", err)
	}
	defer rows.Close()

	var found *Session
	for rows.Next() {
		sess, err := s.scanSession(rows)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return nil, sentinel.ErrConflict
		}
		found = sess
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query by authorization code: %w", err)
	}
	if found == nil {
		return nil, sentinel.ErrNotFound
	}
	return found, nil
}

func (s *PostgresStore) UpdateState(ctx context.Context, id uuid.UUID, next AuthSessionState, extra Extra, expected ...AuthSessionState) error {
	allowed := make([]string, len(expected))
	for i, st := range expected {
		allowed[i] = string(st)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET
			auth_session_state        = $2,
			authorization_code        = COALESCE($3, authorization_code),
			authorization_code_expiry = COALESCE($4, authorization_code_expiry),
			access_token_expiry       = COALESCE($5, access_token_expiry),
			check_result              = COALESCE($6, check_result)
		WHERE session_id = $1 AND auth_session_state = ANY($7)`,
		id, next, extra.AuthorizationCode, extra.AuthorizationCodeExpiry,
		extra.AccessTokenExpiry, nullableResultPtr(extra.CheckResult), allowed)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the session is gone or it was not in an expected state.
		if _, err := s.GetByID(ctx, id); errors.Is(err, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresStore) IncrementAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		UPDATE sessions SET attempt_count = attempt_count + 1
		WHERE session_id = $1
		RETURNING attempt_count`, id).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, sentinel.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment attempt: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) AttachVendorUUID(ctx context.Context, id uuid.UUID, vendorUUID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sessions SET vendor_uuid = $2 WHERE session_id = $1`, id, vendorUUID)
	if err != nil {
		return fmt.Errorf("attach vendor uuid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreatePersonIdentity(ctx context.Context, p *PersonIdentity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO person_identity (session_id, name_parts, birth_date, sort_code, account_number, created_date, expiry_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.SessionID, p.NameParts, p.BirthDate, p.SortCode, p.AccountNumber, p.CreatedDate, p.ExpiryDate)
	if err != nil {
		return fmt.Errorf("create person identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPersonIdentity(ctx context.Context, id uuid.UUID) (*PersonIdentity, error) {
	p := &PersonIdentity{}
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, name_parts, birth_date, sort_code, account_number, created_date, expiry_date
		FROM person_identity WHERE session_id = $1`, id).
		Scan(&p.SessionID, &p.NameParts, &p.BirthDate, &p.SortCode, &p.AccountNumber, &p.CreatedDate, &p.ExpiryDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get person identity: %w", err)
	}
	if p.ExpiryDate.Before(s.now()) {
		return nil, sentinel.ErrExpired
	}
	return p, nil
}

func (s *PostgresStore) AttachAccountDetails(ctx context.Context, id uuid.UUID, sortCode, accountNumber string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE person_identity SET sort_code = $2, account_number = $3
		WHERE session_id = $1`, id, sortCode, accountNumber)
	if err != nil {
		return fmt.Errorf("attach account details: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanSession(row rowScanner) (*Session, error) {
	sess := &Session{}
	var checkResult *string
	err := row.Scan(&sess.ID, &sess.ClientID, &sess.ClientSessionID, &sess.RedirectURI,
		&sess.State, &sess.Subject, &sess.AuthSessionState, &sess.CreatedDate,
		&sess.ExpiryDate, &sess.AuthorizationCode, &sess.AuthorizationCodeExpiry,
		&sess.AccessTokenExpiry, &sess.AttemptCount, &sess.VendorUUID,
		&checkResult, &sess.ClientIPAddress)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if checkResult != nil {
		sess.CheckResult = CheckResult(*checkResult)
	}
	if sess.Expired(s.now()) {
		return nil, sentinel.ErrExpired
	}
	return sess, nil
}

func nullableResult(r CheckResult) *string {
	if r == "" {
		return nil
	}
	v := string(r)
	return &v
}

func nullableResultPtr(r *CheckResult) *string {
	if r == nil {
		return nil
	}
	return nullableResult(*r)
}
