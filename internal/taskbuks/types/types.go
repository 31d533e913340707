package types

import (
	"math"
	"time"
)

// Coins is the canonical money unit of the ledger. Everything the engine
// stores or mutates is integer coins; rupees exist only in API payloads.
type Coins int64

const CoinsPerRupee = 1000

func (c Coins) Rupees() float64 {
	return float64(c) / CoinsPerRupee
}

func FromRupees(r float64) Coins {
	return Coins(math.Round(r * CoinsPerRupee))
}

type TransactionType string

const (
	TypeEarning    TransactionType = "EARNING"
	TypeBonus      TransactionType = "BONUS"
	TypeReferral   TransactionType = "REFERRAL"
	TypeSurvey     TransactionType = "SURVEY"
	TypeWithdrawal TransactionType = "WITHDRAWAL"
	// TypeRefund marks the compensating credit written when an admin
	// rejects a withdrawal. It is excluded from lifetime-earnings sums.
	TypeRefund TransactionType = "REFUND"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

type UserTaskStatus string

const (
	TaskStarted   UserTaskStatus = "STARTED"
	TaskCompleted UserTaskStatus = "COMPLETED"
)

type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	FullName      string     `json:"full_name"`
	PhoneNumber   string     `json:"phone_number"`
	ReferralCode  string     `json:"referral_code"`
	ReferredBy    string     `json:"referred_by,omitempty"`
	DeviceID      string     `json:"-"`
	IsActive      bool       `json:"is_active"`
	CurrentStreak int        `json:"current_streak"`
	LastClaimDate *time.Time `json:"last_claim_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type Wallet struct {
	UserID      string `json:"user_id"`
	Balance     Coins  `json:"-"`
	TotalEarned Coins  `json:"-"`
}

type Transaction struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	Amount       Coins             `json:"-"`
	Description  string            `json:"description"`
	Type         TransactionType   `json:"type"`
	Status       TransactionStatus `json:"status"`
	Network      string            `json:"network,omitempty"`
	ExternalTxID string            `json:"external_tx_id,omitempty"`
	UpiID        string            `json:"upi_id,omitempty"`
	AdminNotes   string            `json:"admin_notes,omitempty"`
	ProcessedAt  *time.Time        `json:"processed_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Reward      Coins     `json:"-"`
	IconURL     string    `json:"icon_url,omitempty"`
	Category    string    `json:"category"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

type UserTask struct {
	UserID      string         `json:"user_id"`
	TaskID      string         `json:"task_id"`
	Status      UserTaskStatus `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Requests

type RegisterRequest struct {
	FullName     string `json:"full_name"`
	Email        string `json:"email"`
	PhoneNumber  string `json:"phone_number"`
	Password     string `json:"password"`
	ReferralCode string `json:"referral_code"`
	DeviceID     string `json:"device_id"`
}

type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type StartTaskRequest struct {
	TaskID string `json:"taskId"`
}

type CompleteTaskRequest struct {
	TaskID string `json:"taskId"`
}

type ClaimBonusRequest struct {
	Multiplier int `json:"multiplier"`
}

type AddCoinsRequest struct {
	Coins       int64  `json:"coins"`
	Description string `json:"description"`
}

type WithdrawRequest struct {
	Amount float64 `json:"amount"`
	UpiID  string  `json:"upiId"`
}

type BanUserRequest struct {
	UserID   string `json:"userId"`
	IsActive bool   `json:"isActive"`
}

type CreateTaskRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Reward      float64 `json:"reward"`
	IconURL     string  `json:"icon"`
	Category    string  `json:"category"`
}

type DeleteTaskRequest struct {
	TaskID string `json:"taskId"`
}

type SettleWithdrawalRequest struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Notes         string `json:"notes"`
}

// Responses

type ProfileResponse struct {
	User             *User   `json:"user"`
	Balance          float64 `json:"balance"`
	TotalCoins       int64   `json:"totalCoins"`
	LifetimeEarnings float64 `json:"lifetimeEarnings"`
}

// Offer is the merged list shape: internal tasks and live offerwall rows
// render identically on the client.
type Offer struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Subtitle string  `json:"subtitle"`
	Reward   float64 `json:"reward"`
	IconURL  string  `json:"icon,omitempty"`
	Category string  `json:"category"`
	Source   string  `json:"source"`
	ClickURL string  `json:"url,omitempty"`
}

type Survey struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Reward   float64 `json:"reward"`
	Minutes  int     `json:"minutes"`
	ClickURL string  `json:"url"`
}

type StreakResponse struct {
	Streak       int  `json:"streak"`
	ClaimedToday bool `json:"claimedToday"`
}

type BonusResult struct {
	Streak     int   `json:"streak"`
	Reward     Coins `json:"-"`
	NewBalance Coins `json:"-"`
}

type TransactionView struct {
	ID          string     `json:"id"`
	Amount      float64    `json:"amount"`
	Coins       int64      `json:"coins"`
	Description string     `json:"description"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	UpiID       string     `json:"upiId,omitempty"`
	AdminNotes  string     `json:"adminNotes,omitempty"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func NewTransactionView(t *Transaction) TransactionView {
	return TransactionView{
		ID:          t.ID,
		Amount:      t.Amount.Rupees(),
		Coins:       int64(t.Amount),
		Description: t.Description,
		Type:        string(t.Type),
		Status:      string(t.Status),
		UpiID:       t.UpiID,
		AdminNotes:  t.AdminNotes,
		ProcessedAt: t.ProcessedAt,
		CreatedAt:   t.CreatedAt,
	}
}

type AdminUserRow struct {
	ID       string  `json:"id"`
	FullName string  `json:"full_name"`
	Email    string  `json:"email"`
	IsActive bool    `json:"is_active"`
	Balance  float64 `json:"balance"`
}

type AdminStats struct {
	TotalUsers   int64   `json:"totalUsers"`
	TotalTasks   int64   `json:"totalTasks"`
	TotalPayouts float64 `json:"totalPayouts"`
	ActiveUsers  int64   `json:"activeUsers"`
}
