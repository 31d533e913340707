package database

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taskbuks/taskbuks/internal/taskbuks/config"
	"github.com/taskbuks/taskbuks/internal/taskbuks/types"
	"go.uber.org/zap"
)

type DB struct {
	Conn   *pgxpool.Pool
	logger *zap.Logger
}

func NewDB(cfg *config.Config, logger *zap.Logger) (*DB, error) {
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "pgxpool.New failed: ")
	}
	if err := pool.Ping(context.Background()); err != nil {
		return nil, errors.Wrap(err, "pool.Ping failed: ")
	}
	return &DB{Conn: pool, logger: logger.Named("database")}, nil
}

func (d *DB) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		d.logger.Error("tx.Rollback failed", zap.Error(err))
	}
}

// ─── users ──────────────────────────────────────────────────────────────

const userColumns = "id, email, coalesce(password_hash, ''), full_name, phone_number, referral_code, coalesce(referred_by, ''), device_id, is_active, current_streak, last_claim_date, created_at, updated_at"

func scanUser(row pgx.Row) (*types.User, error) {
	user := &types.User{}
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.FullName, &user.PhoneNumber,
		&user.ReferralCode, &user.ReferredBy, &user.DeviceID, &user.IsActive,
		&user.CurrentStreak, &user.LastClaimDate, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotExist
	}
	if err != nil {
		return nil, errors.Wrap(err, "row.Scan failed: ")
	}
	return user, nil
}

// CreateUser inserts the user, its wallet, and any referral bonuses in one
// transaction; a user row without a wallet row must never be observable,
// and a paid referrer with an unpaid invitee must not be either.
func (d *DB) CreateUser(ctx context.Context, user *types.User, referrerID string, referralBonus types.Coins) error {
	tx, err := d.Conn.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "conn.Begin failed: ")
	}
	defer d.rollback(ctx, tx)

	var referredBy *string
	if user.ReferredBy != "" {
		referredBy = &user.ReferredBy
	}
	row := tx.QueryRow(ctx,
		`insert into users (id, email, password_hash, full_name, phone_number, referral_code, referred_by, device_id)
		 values ($1, $2, $3, $4, $5, $6, $7, $8)
		 on conflict (email) do nothing returning id`,
		user.ID, user.Email, user.PasswordHash, user.FullName, user.PhoneNumber, user.ReferralCode, referredBy, user.DeviceID)
	var id string
	err = row.Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUserAlreadyExist
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "referral_code") {
			return ErrReferralCodeTaken
		}
		return errors.Wrap(err, "row.Scan failed: ")
	}

	_, err = tx.Exec(ctx, "insert into wallets (user_id) values ($1)", user.ID)
	if err != nil {
		return errors.Wrap(err, "tx.Exec failed: ")
	}

	if referrerID != "" && referralBonus > 0 {
		if _, err := d.creditLocked(ctx, tx, referrerID, referralBonus, true); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			"insert into transactions (user_id, amount_coins, description, type, status) values ($1, $2, 'Referral bonus', $3, 'COMPLETED')",
			referrerID, int64(referralBonus), types.TypeReferral)
		if err != nil {
			return errors.Wrap(err, "tx.Exec failed: ")
		}
		if _, err := d.creditLocked(ctx, tx, user.ID, referralBonus, true); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			"insert into transactions (user_id, amount_coins, description, type, status) values ($1, $2, 'Referral welcome bonus', $3, 'COMPLETED')",
			user.ID, int64(referralBonus), types.TypeReferral)
		if err != nil {
			return errors.Wrap(err, "tx.Exec failed: ")
		}
	}
	return tx.Commit(ctx)
}

func (d *DB) GetUserByID(ctx context.Context, id string) (*types.User, error) {
	return scanUser(d.Conn.QueryRow(ctx, "select "+userColumns+" from users where id = $1", id))
}

func (d *DB) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	return scanUser(d.Conn.QueryRow(ctx, "select "+userColumns+" from users where email = $1", email))
}

func (d *DB) GetUserByReferralCode(ctx context.Context, code string) (*types.User, error) {
	return scanUser(d.Conn.QueryRow(ctx, "select "+userColumns+" from users where referral_code = $1", code))
}

// TouchUserLogin bumps updated_at, which admin stats use as the
// active-in-last-24h proxy.
func (d *DB) TouchUserLogin(ctx context.Context, id string) error {
	_, err := d.Conn.Exec(ctx, "update users set updated_at = now() where id = $1", id)
	return err
}

func (d *DB) SetUserActive(ctx context.Context, id string, active bool) error {
	tag, err := d.Conn.Exec(ctx, "update users set is_active = $2, updated_at = now() where id = $1", id, active)
	if err != nil {
		return errors.Wrap(err, "conn.Exec failed: ")
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotExist
	}
	return nil
}

func (d *DB) ListUsers(ctx context.Context) ([]*types.AdminUserRow, error) {
	rows, err := d.Conn.Query(ctx,
		`select u.id, u.full_name, u.email, u.is_active, coalesce(w.balance_coins, 0)
		 from users u left join wallets w on u.id = w.user_id
		 order by u.created_at desc limit 50`)
	if err != nil {
		return nil, errors.Wrap(err, "conn.Query failed: ")
	}
	defer rows.Close()
	result := make([]*types.AdminUserRow, 0)
	for rows.Next() {
		var balance int64
		r := &types.AdminUserRow{}
		if err := rows.Scan(&r.ID, &r.FullName, &r.Email, &r.IsActive, &balance); err != nil {
			return nil, errors.Wrap(err, "rows.Scan failed: ")
		}
		r.Balance = types.Coins(balance).Rupees()
		result = append(result, r)
	}
	return result, rows.Err()
}

// ─── tasks ──────────────────────────────────────────────────────────────

func (d *DB) CreateTask(ctx context.Context, task *types.Task) (string, error) {
	row := d.Conn.QueryRow(ctx,
		"insert into tasks (title, description, reward_coins, icon_url, category) values ($1, $2, $3, $4, $5) returning id",
		task.Title, task.Description, int64(task.Reward), task.IconURL, task.Category)
	var id string
	if err := row.Scan(&id); err != nil {
		return "", errors.Wrap(err, "row.Scan failed: ")
	}
	return id, nil
}

func (d *DB) DeleteTask(ctx context.Context, id string) error {
	tag, err := d.Conn.Exec(ctx, "delete from tasks where id = $1", id)
	if err != nil {
		return errors.Wrap(err, "conn.Exec failed: ")
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotExist
	}
	return nil
}

func (d *DB) ListTasks(ctx context.Context, activeOnly bool) ([]*types.Task, error) {
	query := "select id, title, description, reward_coins, icon_url, category, is_active, created_at from tasks"
	if activeOnly {
		query += " where is_active"
	}
	query += " order by created_at"
	rows, err := d.Conn.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "conn.Query failed: ")
	}
	defer rows.Close()
	result := make([]*types.Task, 0)
	for rows.Next() {
		t := &types.Task{}
		var reward int64
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &reward, &t.IconURL, &t.Category, &t.IsActive, &t.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "rows.Scan failed: ")
		}
		t.Reward = types.Coins(reward)
		result = append(result, t)
	}
	return result, rows.Err()
}

// StartTask records the attempt idempotently: a second start for the same
// (user, task) pair is a success, not an error.
func (d *DB) StartTask(ctx context.Context, userID, taskID string) error {
	row := d.Conn.QueryRow(ctx, "select exists(select 1 from tasks where id = $1 and is_active)", taskID)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return errors.Wrap(err, "row.Scan failed: ")
	}
	if !exists {
		return ErrTaskNotExist
	}
	_, err := d.Conn.Exec(ctx,
		"insert into user_tasks (user_id, task_id) values ($1, $2) on conflict (user_id, task_id) do nothing",
		userID, taskID)
	if err != nil {
		return errors.Wrap(err, "conn.Exec failed: ")
	}
	return nil
}

// CompleteUserTask flips STARTED -> COMPLETED and credits the task reward
// exactly once. The status gate in the update is what prevents double
// credit from duplicate completion calls.
func (d *DB) CompleteUserTask(ctx context.Context, userID, taskID string) (types.Coins, error) {
	tx, err := d.Conn.Begin(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "conn.Begin failed: ")
	}
	defer d.rollback(ctx, tx)

	var reward int64
	var title string
	row := tx.QueryRow(ctx, "select reward_coins, title from tasks where id = $1", taskID)
	err = row.Scan(&reward, &title)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrTaskNotExist
	}
	if err != nil {
		return 0, errors.Wrap(err, "row.Scan failed: ")
	}

	tag, err := tx.Exec(ctx,
		"update user_tasks set status = 'COMPLETED', completed_at = now() where user_id = $1 and task_id = $2 and status = 'STARTED'",
		userID, taskID)
	if err != nil {
		return 0, errors.Wrap(err, "tx.Exec failed: ")
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrInvalidTaskState
	}

	newBalance, err := d.creditLocked(ctx, tx, userID, types.Coins(reward), true)
	if err != nil {
		return 0, err
	}
	_, err = tx.Exec(ctx,
		"insert into transactions (user_id, amount_coins, description, type, status) values ($1, $2, $3, $4, 'COMPLETED')",
		userID, reward, "Task completed: "+title, types.TypeEarning)
	if err != nil {
		return 0, errors.Wrap(err, "tx.Exec failed: ")
	}
	return newBalance, tx.Commit(ctx)
}

// ─── wallet ─────────────────────────────────────────────────────────────

// creditLocked applies a delta to a wallet row under a row lock. Callers
// own the transaction; two concurrent credits for the same user serialize
// on the FOR UPDATE and both apply.
func (d *DB) creditLocked(ctx context.Context, tx pgx.Tx, userID string, delta types.Coins, countEarned bool) (types.Coins, error) {
	var balance int64
	row := tx.QueryRow(ctx, "select balance_coins from wallets where user_id = $1 for update", userID)
	err := row.Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrWalletNotExist
	}
	if err != nil {
		return 0, errors.Wrap(err, "row.Scan failed: ")
	}
	newBalance := types.Coins(balance) + delta
	if newBalance < 0 {
		return 0, ErrInsufficientBalance
	}
	earned := int64(0)
	if countEarned && delta > 0 {
		earned = int64(delta)
	}
	_, err = tx.Exec(ctx,
		"update wallets set balance_coins = $2, total_earned_coins = total_earned_coins + $3, updated_at = now() where user_id = $1",
		userID, int64(newBalance), earned)
	if err != nil {
		return 0, errors.Wrap(err, "tx.Exec failed: ")
	}
	return newBalance, nil
}

func (d *DB) CreditWallet(ctx context.Context, userID string, amount types.Coins, description string, txType types.TransactionType) (types.Coins, error) {
	tx, err := d.Conn.Begin(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "conn.Begin failed: ")
	}
	defer d.rollback(ctx, tx)

	newBalance, err := d.creditLocked(ctx, tx, userID, amount, true)
	if err != nil {
		return 0, err
	}
	_, err = tx.Exec(ctx,
		"insert into transactions (user_id, amount_coins, description, type, status) values ($1, $2, $3, $4, 'COMPLETED')",
		userID, int64(amount), description, txType)
	if err != nil {
		return 0, errors.Wrap(err, "tx.Exec failed: ")
	}
	return newBalance, tx.Commit(ctx)
}

// CreditExternal is CreditWallet keyed by a network transaction id. The
// insert goes first: if the unique (network, external_tx_id) index already
// holds the row, this delivery is a replay and nothing is credited.
func (d *DB) CreditExternal(ctx context.Context, userID string, amount types.Coins, description string, txType types.TransactionType, network, externalTxID string) (types.Coins, error) {
	tx, err := d.Conn.Begin(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "conn.Begin failed: ")
	}
	defer d.rollback(ctx, tx)

	row := tx.QueryRow(ctx,
		`insert into transactions (user_id, amount_coins, description, type, status, network, external_tx_id)
		 values ($1, $2, $3, $4, 'COMPLETED', $5, $6)
		 on conflict (network, external_tx_id) where network is not null and external_tx_id is not null do nothing
		 returning id`,
		userID, int64(amount), description, txType, network, externalTxID)
	var id string
	err = row.Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrDuplicateEvent
	}
	if err != nil {
		return 0, errors.Wrap(err, "row.Scan failed: ")
	}

	newBalance, err := d.creditLocked(ctx, tx, userID, amount, true)
	if err != nil {
		return 0, err
	}
	return newBalance, tx.Commit(ctx)
}

// ClaimDailyBonus locks the user row so two same-day claims serialize; the
// loser of the race sees today's last_claim_date and fails.
func (d *DB) ClaimDailyBonus(ctx context.Context, userID string, multiplier int, now time.Time) (*types.BonusResult, error) {
	tx, err := d.Conn.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "conn.Begin failed: ")
	}
	defer d.rollback(ctx, tx)

	var streak int
	var lastClaim *time.Time
	row := tx.QueryRow(ctx, "select current_streak, last_claim_date from users where id = $1 for update", userID)
	err = row.Scan(&streak, &lastClaim)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotExist
	}
	if err != nil {
		return nil, errors.Wrap(err, "row.Scan failed: ")
	}
	if ClaimedToday(lastClaim, now) {
		return nil, ErrAlreadyClaimedToday
	}

	streak = NextStreak(streak, lastClaim, now)
	reward := BonusCoins(streak) * types.Coins(multiplier)

	_, err = tx.Exec(ctx,
		"update users set current_streak = $2, last_claim_date = $3, updated_at = now() where id = $1",
		userID, streak, now.UTC().Format(time.DateOnly))
	if err != nil {
		return nil, errors.Wrap(err, "tx.Exec failed: ")
	}

	newBalance, err := d.creditLocked(ctx, tx, userID, reward, true)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx,
		"insert into transactions (user_id, amount_coins, description, type, status) values ($1, $2, 'Daily Login Bonus', $3, 'COMPLETED')",
		userID, int64(reward), types.TypeBonus)
	if err != nil {
		return nil, errors.Wrap(err, "tx.Exec failed: ")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "tx.Commit failed: ")
	}
	return &types.BonusResult{Streak: streak, Reward: reward, NewBalance: newBalance}, nil
}

// RequestWithdrawal debits first and records the PENDING row in the same
// transaction. The balance check happens under the wallet lock, so two
// racing requests cannot both pass on the same funds.
func (d *DB) RequestWithdrawal(ctx context.Context, userID string, amount types.Coins, upiID string) (string, error) {
	tx, err := d.Conn.Begin(ctx)
	if err != nil {
		return "", errors.Wrap(err, "conn.Begin failed: ")
	}
	defer d.rollback(ctx, tx)

	if _, err := d.creditLocked(ctx, tx, userID, -amount, false); err != nil {
		return "", err
	}
	row := tx.QueryRow(ctx,
		`insert into transactions (user_id, amount_coins, description, type, status, upi_id)
		 values ($1, $2, 'Withdrawal request', $3, 'PENDING', $4) returning id`,
		userID, int64(amount), types.TypeWithdrawal, upiID)
	var id string
	if err := row.Scan(&id); err != nil {
		return "", errors.Wrap(err, "row.Scan failed: ")
	}
	return id, tx.Commit(ctx)
}

// SettleWithdrawal moves a PENDING withdrawal to its terminal state. A
// rejection refunds the debit as a new REFUND credit row; the original
// debit row is never rewritten, so the audit trail keeps both sides.
func (d *DB) SettleWithdrawal(ctx context.Context, transactionID string, approve bool, notes string) (*types.Transaction, error) {
	tx, err := d.Conn.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "conn.Begin failed: ")
	}
	defer d.rollback(ctx, tx)

	var userID, status string
	var amount int64
	row := tx.QueryRow(ctx,
		"select user_id, amount_coins, status from transactions where id = $1 and type = 'WITHDRAWAL' for update",
		transactionID)
	err = row.Scan(&userID, &amount, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWithdrawalNotExist
	}
	if err != nil {
		return nil, errors.Wrap(err, "row.Scan failed: ")
	}
	if types.TransactionStatus(status) != types.StatusPending {
		return nil, ErrInvalidStateTransition
	}

	newStatus := types.StatusCompleted
	if !approve {
		newStatus = types.StatusFailed
	}
	_, err = tx.Exec(ctx,
		"update transactions set status = $2, admin_notes = $3, processed_at = now() where id = $1",
		transactionID, newStatus, notes)
	if err != nil {
		return nil, errors.Wrap(err, "tx.Exec failed: ")
	}

	if !approve {
		if _, err := d.creditLocked(ctx, tx, userID, types.Coins(amount), false); err != nil {
			return nil, err
		}
		_, err = tx.Exec(ctx,
			"insert into transactions (user_id, amount_coins, description, type, status) values ($1, $2, 'Withdrawal refund', $3, 'COMPLETED')",
			userID, amount, types.TypeRefund)
		if err != nil {
			return nil, errors.Wrap(err, "tx.Exec failed: ")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "tx.Commit failed: ")
	}
	return d.getTransaction(ctx, transactionID)
}

func (d *DB) GetWallet(ctx context.Context, userID string) (*types.Wallet, error) {
	var balance, earned int64
	row := d.Conn.QueryRow(ctx, "select balance_coins, total_earned_coins from wallets where user_id = $1", userID)
	err := row.Scan(&balance, &earned)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotExist
	}
	if err != nil {
		return nil, errors.Wrap(err, "row.Scan failed: ")
	}
	return &types.Wallet{UserID: userID, Balance: types.Coins(balance), TotalEarned: types.Coins(earned)}, nil
}

// LifetimeEarnings sums credit-typed ledger rows instead of trusting a
// cached counter. REFUND rows are compensations, not earnings.
func (d *DB) LifetimeEarnings(ctx context.Context, userID string) (types.Coins, error) {
	var sum int64
	row := d.Conn.QueryRow(ctx,
		"select coalesce(sum(amount_coins), 0) from transactions where user_id = $1 and type in ('EARNING', 'BONUS', 'REFERRAL', 'SURVEY')",
		userID)
	if err := row.Scan(&sum); err != nil {
		return 0, errors.Wrap(err, "row.Scan failed: ")
	}
	return types.Coins(sum), nil
}

// ─── ledger reads ───────────────────────────────────────────────────────

const transactionColumns = "id, user_id, amount_coins, description, type, status, coalesce(network, ''), coalesce(external_tx_id, ''), coalesce(upi_id, ''), coalesce(admin_notes, ''), processed_at, created_at"

func scanTransaction(row pgx.Row) (*types.Transaction, error) {
	t := &types.Transaction{}
	var amount int64
	err := row.Scan(&t.ID, &t.UserID, &amount, &t.Description, &t.Type, &t.Status,
		&t.Network, &t.ExternalTxID, &t.UpiID, &t.AdminNotes, &t.ProcessedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Amount = types.Coins(amount)
	return t, nil
}

func (d *DB) getTransaction(ctx context.Context, id string) (*types.Transaction, error) {
	t, err := scanTransaction(d.Conn.QueryRow(ctx, "select "+transactionColumns+" from transactions where id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWithdrawalNotExist
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanTransaction failed: ")
	}
	return t, nil
}

func (d *DB) collectTransactions(ctx context.Context, query string, args ...any) ([]*types.Transaction, error) {
	rows, err := d.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "conn.Query failed: ")
	}
	defer rows.Close()
	result := make([]*types.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanTransaction failed: ")
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (d *DB) ListTransactions(ctx context.Context, userID string, limit int) ([]*types.Transaction, error) {
	return d.collectTransactions(ctx,
		"select "+transactionColumns+" from transactions where user_id = $1 order by created_at desc limit $2",
		userID, limit)
}

// ListWithdrawals with an empty userID returns the admin view of every
// withdrawal.
func (d *DB) ListWithdrawals(ctx context.Context, userID string) ([]*types.Transaction, error) {
	if userID == "" {
		return d.collectTransactions(ctx,
			"select "+transactionColumns+" from transactions where type = 'WITHDRAWAL' order by created_at desc")
	}
	return d.collectTransactions(ctx,
		"select "+transactionColumns+" from transactions where type = 'WITHDRAWAL' and user_id = $1 order by created_at desc",
		userID)
}

func (d *DB) Stats(ctx context.Context) (*types.AdminStats, error) {
	stats := &types.AdminStats{}
	var payouts int64
	row := d.Conn.QueryRow(ctx, `select
		(select count(*) from users),
		(select count(*) from tasks),
		(select coalesce(sum(amount_coins), 0) from transactions where type in ('EARNING', 'BONUS', 'REFERRAL', 'SURVEY')),
		(select count(*) from users where updated_at > now() - interval '24 hours')`)
	if err := row.Scan(&stats.TotalUsers, &stats.TotalTasks, &payouts, &stats.ActiveUsers); err != nil {
		return nil, errors.Wrap(err, "row.Scan failed: ")
	}
	stats.TotalPayouts = types.Coins(payouts).Rupees()
	return stats, nil
}
