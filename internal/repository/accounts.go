package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockedby/tg-harvester/internal/models"
)

// ErrAccountExists is returned when an account with the same phone number is registered.
var ErrAccountExists = errors.New("account with this phone number already exists")

const accountColumns = `id, api_id, api_hash, phone_number, name, connection_state, session_path, created_at, updated_at`

// AccountsRepository handles the accounts and selected_chats tables
type AccountsRepository struct {
	pool *pgxpool.Pool
}

// NewAccountsRepository creates a new accounts repository
func NewAccountsRepository(pool *pgxpool.Pool) *AccountsRepository {
	return &AccountsRepository{pool: pool}
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.ID, &a.APIID, &a.APIHash, &a.PhoneNumber, &a.Name,
		&a.ConnectionState, &a.SessionPath, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create registers a new account in the disconnected state
func (r *AccountsRepository) Create(ctx context.Context, a *models.Account) error {
	if a.ConnectionState == "" {
		a.ConnectionState = models.StateDisconnected
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (api_id, api_hash, phone_number, name, connection_state, session_path)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, a.APIID, a.APIHash, a.PhoneNumber, a.Name, a.ConnectionState, a.SessionPath).Scan(
		&a.ID, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAccountExists
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// GetByID returns an account by ID, nil if not found
func (r *AccountsRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account by id: %w", err)
	}
	return a, nil
}

// GetByPhone returns an account by phone number, nil if not found
func (r *AccountsRepository) GetByPhone(ctx context.Context, phone string) (*models.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE phone_number = $1`, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account by phone: %w", err)
	}
	return a, nil
}

// List returns all accounts ordered by creation
func (r *AccountsRepository) List(ctx context.Context) ([]models.Account, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
}

// GetConnectedAccounts returns the accounts a cycle may harvest
func (r *AccountsRepository) GetConnectedAccounts(ctx context.Context) ([]models.Account, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM accounts WHERE connection_state = $1 ORDER BY id`, models.StateConnected)
}

func (r *AccountsRepository) list(ctx context.Context, query string, args ...any) ([]models.Account, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// SetConnectionState updates the connection state of an account
func (r *AccountsRepository) SetConnectionState(ctx context.Context, id int64, state models.ConnectionState) error {
	if !state.IsValid() {
		return fmt.Errorf("invalid connection state %q", state)
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts SET connection_state = $2, updated_at = NOW() WHERE id = $1
	`, id, state)
	if err != nil {
		return fmt.Errorf("set connection state: %w", err)
	}
	return nil
}

// SetSessionPath records where the session artifact of an account lives
func (r *AccountsRepository) SetSessionPath(ctx context.Context, id int64, path string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts SET session_path = $2, updated_at = NOW() WHERE id = $1
	`, id, path)
	if err != nil {
		return fmt.Errorf("set session path: %w", err)
	}
	return nil
}

// Delete removes an account and its chat selection
func (r *AccountsRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

// GetSelectedChats returns the chat ids selected for harvesting
func (r *AccountsRepository) GetSelectedChats(ctx context.Context, accountID int64) ([]int64, error) {
	chats, err := r.ListSelectedChats(ctx, accountID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(chats))
	for _, c := range chats {
		ids = append(ids, c.ChatID)
	}
	return ids, nil
}

// ListSelectedChats returns the selected chats with their titles
func (r *AccountsRepository) ListSelectedChats(ctx context.Context, accountID int64) ([]models.SelectedChat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT account_id, chat_id, title FROM selected_chats WHERE account_id = $1 ORDER BY chat_id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list selected chats: %w", err)
	}
	defer rows.Close()

	chats, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.SelectedChat])
	if err != nil {
		return nil, fmt.Errorf("scan selected chats: %w", err)
	}
	return chats, nil
}

// ReplaceSelectedChats replaces the whole selection of an account in one transaction
func (r *AccountsRepository) ReplaceSelectedChats(ctx context.Context, accountID int64, chats []models.SelectedChat) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM selected_chats WHERE account_id = $1`, accountID); err != nil {
			return fmt.Errorf("clear selected chats: %w", err)
		}
		if len(chats) == 0 {
			return nil
		}

		rows := make([][]any, 0, len(chats))
		seen := make(map[int64]bool, len(chats))
		for _, c := range chats {
			if seen[c.ChatID] {
				continue
			}
			seen[c.ChatID] = true
			rows = append(rows, []any{accountID, c.ChatID, c.Title})
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"selected_chats"},
			[]string{"account_id", "chat_id", "title"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("insert selected chats: %w", err)
		}
		return nil
	})
}

// isUniqueViolation reports a postgres unique_violation (23505)
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
