package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/ssobridge/pkg/observability"
	"github.com/platinummonkey/ssobridge/pkg/sso"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store persists users and roles in PostgreSQL. It implements sso.Store,
// sso.Transactor and sso.ExpiredTokenStore.
type Store struct {
	db     *sql.DB
	q      querier
	reader func() *sql.DB
	inTx   bool
	logger *observability.Logger
	now    func() time.Time
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithReader routes lookups made outside a transaction to the returned
// connection, typically ConnectionManager.Replica.
func WithReader(reader func() *sql.DB) StoreOption {
	return func(s *Store) { s.reader = reader }
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger *observability.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates a store on db.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:     db,
		q:      db,
		logger: observability.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) read() querier {
	if s.inTx || s.reader == nil {
		return s.q
	}
	return s.reader()
}

// InTx runs fn in a transaction. Nested calls reuse the open transaction.
func (s *Store) InTx(ctx context.Context, fn func(sso.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	txStore := &Store{db: s.db, q: tx, inTx: true, logger: s.logger, now: s.now}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.WithError(rbErr).Warn("Transaction rollback failed")
		}
	}()

	if err := fn(txStore); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

const selectUser = `
	SELECT u.id, u.email, u.display_name, u.password_hash, u.role_id, u.auth_provider,
		u.external_id, u.encrypted_refresh_token, u.token_expires_at, u.last_login_at,
		u.created_at, u.updated_at,
		ARRAY(SELECT ur.role_id FROM user_roles ur WHERE ur.user_id = u.id ORDER BY ur.role_id)
	FROM users u
`

// FindByExternalID returns the user linked to the IdP subject.
func (s *Store) FindByExternalID(ctx context.Context, externalID string) (*sso.User, error) {
	row := s.read().QueryRowContext(ctx, selectUser+"WHERE u.external_id = $1", externalID)
	user, err := scanUser(row)
	if err != nil {
		return nil, wrapLookup("user by external id", err)
	}
	return user, nil
}

// FindByEmail returns the user with the given email, compared case-insensitively.
func (s *Store) FindByEmail(ctx context.Context, email string) (*sso.User, error) {
	row := s.read().QueryRowContext(ctx, selectUser+"WHERE LOWER(u.email) = LOWER($1)", email)
	user, err := scanUser(row)
	if err != nil {
		return nil, wrapLookup("user by email", err)
	}
	return user, nil
}

// Create inserts user and sets its ID and timestamps.
func (s *Store) Create(ctx context.Context, user *sso.User) error {
	now := s.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
	provider := user.AuthProvider
	if provider == "" {
		provider = sso.ProviderLocal
	}

	query := `
		INSERT INTO users (email, display_name, password_hash, role_id, auth_provider, external_id,
			encrypted_refresh_token, token_expires_at, last_login_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	err := s.q.QueryRowContext(ctx, query,
		user.Email,
		user.DisplayName,
		user.PasswordHash,
		nullInt64(user.RoleID),
		string(provider),
		nullString(user.ExternalID),
		nullString(user.EncryptedRefreshToken),
		nullTime(user.TokenExpiresAt),
		nullTime(user.LastLoginAt),
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.AuthProvider = provider
	return nil
}

// Save updates every mutable column of user. Role membership is managed by
// AssignPrimaryRole and ReplaceAllRoles.
func (s *Store) Save(ctx context.Context, user *sso.User) error {
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = s.now()
	}

	query := `
		UPDATE users SET
			email = $2, display_name = $3, password_hash = $4, role_id = $5, auth_provider = $6,
			external_id = $7, encrypted_refresh_token = $8, token_expires_at = $9,
			last_login_at = $10, updated_at = $11
		WHERE id = $1
	`
	result, err := s.q.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.DisplayName,
		user.PasswordHash,
		nullInt64(user.RoleID),
		string(user.AuthProvider),
		nullString(user.ExternalID),
		nullString(user.EncryptedRefreshToken),
		nullTime(user.TokenExpiresAt),
		nullTime(user.LastLoginAt),
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return requireRow(result, "user")
}

// FindRolesByNames returns the roles that exist among names.
func (s *Store) FindRolesByNames(ctx context.Context, names []string) ([]sso.Role, error) {
	if len(names) == 0 {
		return nil, nil
	}

	rows, err := s.read().QueryContext(ctx,
		"SELECT id, name FROM roles WHERE name = ANY($1) ORDER BY id", pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	var roles []sso.Role
	for rows.Next() {
		var role sso.Role
		if err := rows.Scan(&role.ID, &role.Name); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}
	return roles, nil
}

// FindRoleByName returns the named role or sso.ErrNotFound.
func (s *Store) FindRoleByName(ctx context.Context, name string) (*sso.Role, error) {
	var role sso.Role
	err := s.read().QueryRowContext(ctx, "SELECT id, name FROM roles WHERE name = $1", name).
		Scan(&role.ID, &role.Name)
	if err != nil {
		return nil, wrapLookup("role", err)
	}
	return &role, nil
}

// AssignPrimaryRole sets the user's primary role and records the membership.
func (s *Store) AssignPrimaryRole(ctx context.Context, userID, roleID int64) error {
	return s.withSavepoint(ctx, "assign_primary_role", func(q querier) error {
		result, err := q.ExecContext(ctx,
			"UPDATE users SET role_id = $2, updated_at = $3 WHERE id = $1", userID, roleID, s.now())
		if err != nil {
			return fmt.Errorf("failed to assign primary role: %w", err)
		}
		if err := requireRow(result, "user"); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx,
			"INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING", userID, roleID,
		); err != nil {
			return fmt.Errorf("failed to add role membership: %w", err)
		}
		return nil
	})
}

// ReplaceAllRoles makes roleIDs the user's complete role set.
func (s *Store) ReplaceAllRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	return s.withSavepoint(ctx, "replace_roles", func(q querier) error {
		if _, err := q.ExecContext(ctx, "DELETE FROM user_roles WHERE user_id = $1", userID); err != nil {
			return fmt.Errorf("failed to clear roles: %w", err)
		}
		if len(roleIDs) == 0 {
			return nil
		}
		if _, err := q.ExecContext(ctx,
			"INSERT INTO user_roles (user_id, role_id) SELECT $1, UNNEST($2::bigint[]) ON CONFLICT DO NOTHING",
			userID, pq.Array(roleIDs),
		); err != nil {
			return fmt.Errorf("failed to insert roles: %w", err)
		}
		return nil
	})
}

// withSavepoint runs fn so that its failure undoes only its own statements.
// Outside a transaction fn gets a transaction of its own.
func (s *Store) withSavepoint(ctx context.Context, name string, fn func(querier) error) error {
	if !s.inTx {
		return s.InTx(ctx, func(store sso.Store) error {
			return store.(*Store).withSavepoint(ctx, name, fn)
		})
	}

	if _, err := s.q.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	if err := fn(s.q); err != nil {
		if _, rbErr := s.q.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			s.logger.WithError(rbErr).Warn("Savepoint rollback failed")
		}
		return err
	}
	if _, err := s.q.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

// ClearExpiredTokens removes stored refresh tokens of SSO users whose token
// expired before the cutoff. It returns the number of users touched.
func (s *Store) ClearExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	query := `
		UPDATE users SET encrypted_refresh_token = NULL, token_expires_at = NULL, updated_at = $2
		WHERE auth_provider = $3
			AND encrypted_refresh_token IS NOT NULL
			AND token_expires_at < $1
	`
	result, err := s.q.ExecContext(ctx, query, before, s.now(), string(sso.ProviderSSO))
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared tokens: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row scanner) (*sso.User, error) {
	var (
		user           sso.User
		provider       string
		roleID         sql.NullInt64
		externalID     sql.NullString
		encrypted      sql.NullString
		tokenExpiresAt sql.NullTime
		lastLoginAt    sql.NullTime
		roleIDs        []int64
	)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&roleID,
		&provider,
		&externalID,
		&encrypted,
		&tokenExpiresAt,
		&lastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
		pq.Array(&roleIDs),
	)
	if err != nil {
		return nil, err
	}

	user.AuthProvider = sso.AuthProvider(provider)
	user.ExternalID = externalID.String
	user.EncryptedRefreshToken = encrypted.String
	if roleID.Valid {
		id := roleID.Int64
		user.RoleID = &id
	}
	if tokenExpiresAt.Valid {
		t := tokenExpiresAt.Time
		user.TokenExpiresAt = &t
	}
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		user.LastLoginAt = &t
	}
	if len(roleIDs) > 0 {
		user.RoleIDs = roleIDs
	}
	return &user, nil
}

func wrapLookup(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sso.ErrNotFound
	}
	return fmt.Errorf("failed to look up %s: %w", what, err)
}

func requireRow(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, sso.ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var (
	_ sso.Store             = (*Store)(nil)
	_ sso.Transactor        = (*Store)(nil)
	_ sso.ExpiredTokenStore = (*Store)(nil)
)
