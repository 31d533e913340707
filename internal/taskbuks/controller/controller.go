package controller

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/taskbuks/taskbuks/internal/taskbuks/config"
	"github.com/taskbuks/taskbuks/internal/taskbuks/database"
	"github.com/taskbuks/taskbuks/internal/taskbuks/postback"
	"github.com/taskbuks/taskbuks/internal/taskbuks/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	// referral bonus paid to both sides when a new user registers with a
	// valid code
	referralRewardCoins = types.Coins(10 * types.CoinsPerRupee)
	// flat credit for a completed rewarded-video ad
	videoRewardCoins = types.Coins(500)
	// mini-games self-report coins; the engine caps what a single call
	// may claim
	maxGameCoins = int64(100)
	// payout channel minimum
	minWithdrawalCoins = types.Coins(100 * types.CoinsPerRupee)

	tokenTTL = 72 * time.Hour
)

var ErrInvalidMultiplier = errors.New("bonus multiplier not allowed")
var ErrInvalidCoinAmount = errors.New("coin amount out of range")
var ErrWithdrawalTooSmall = errors.New("withdrawal below minimum amount")
var ErrInvalidUpiID = errors.New("upi id is required")
var ErrUserDisabled = errors.New("user account is disabled")
var ErrInvalidSettleStatus = errors.New("settle status must be COMPLETED or FAILED")

type userDatabase interface {
	CreateUser(ctx context.Context, user *types.User, referrerID string, referralBonus types.Coins) error
	GetUserByID(ctx context.Context, id string) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*types.User, error)
	TouchUserLogin(ctx context.Context, id string) error
	SetUserActive(ctx context.Context, id string, active bool) error
	ListUsers(ctx context.Context) ([]*types.AdminUserRow, error)
}

type walletDatabase interface {
	GetWallet(ctx context.Context, userID string) (*types.Wallet, error)
	CreditWallet(ctx context.Context, userID string, amount types.Coins, description string, txType types.TransactionType) (types.Coins, error)
	CreditExternal(ctx context.Context, userID string, amount types.Coins, description string, txType types.TransactionType, network, externalTxID string) (types.Coins, error)
	ClaimDailyBonus(ctx context.Context, userID string, multiplier int, now time.Time) (*types.BonusResult, error)
	RequestWithdrawal(ctx context.Context, userID string, amount types.Coins, upiID string) (string, error)
	SettleWithdrawal(ctx context.Context, transactionID string, approve bool, notes string) (*types.Transaction, error)
	LifetimeEarnings(ctx context.Context, userID string) (types.Coins, error)
}

type taskDatabase interface {
	CreateTask(ctx context.Context, task *types.Task) (string, error)
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, activeOnly bool) ([]*types.Task, error)
	StartTask(ctx context.Context, userID, taskID string) error
	CompleteUserTask(ctx context.Context, userID, taskID string) (types.Coins, error)
}

type ledgerDatabase interface {
	ListTransactions(ctx context.Context, userID string, limit int) ([]*types.Transaction, error)
	ListWithdrawals(ctx context.Context, userID string) ([]*types.Transaction, error)
	Stats(ctx context.Context) (*types.AdminStats, error)
}

type offerCache interface {
	Offers() []types.Offer
}

type surveyClient interface {
	Surveys(ctx context.Context, userID string) []types.Survey
}

type Controller struct {
	users         userDatabase
	wallets       walletDatabase
	tasks         taskDatabase
	ledger        ledgerDatabase
	offers        offerCache
	surveys       surveyClient
	jwtSecret     []byte
	databaseClose func() error
	now           func() time.Time
}

func NewController(cfg *config.Config, u userDatabase, w walletDatabase, t taskDatabase, l ledgerDatabase, offers offerCache, surveys surveyClient, dbClose func() error) *Controller {
	return &Controller{
		users:         u,
		wallets:       w,
		tasks:         t,
		ledger:        l,
		offers:        offers,
		surveys:       surveys,
		jwtSecret:     []byte(cfg.JWTSecret),
		databaseClose: dbClose,
		now:           time.Now,
	}
}

// ─── auth ───────────────────────────────────────────────────────────────

func (c *Controller) Register(ctx context.Context, req *types.RegisterRequest) (*types.User, string, error) {
	hashed, err := cryptPassword([]byte(req.Password))
	if err != nil {
		return nil, "", errors.Wrap(err, "cryptPassword failed: ")
	}

	// an unknown referral code is ignored, not rejected
	referredBy := ""
	referrerID := ""
	if req.ReferralCode != "" {
		referrer, err := c.users.GetUserByReferralCode(ctx, req.ReferralCode)
		if err == nil {
			referredBy = referrer.ReferralCode
			referrerID = referrer.ID
		} else if !errors.Is(err, database.ErrUserNotExist) {
			return nil, "", errors.Wrap(err, "users.GetUserByReferralCode failed: ")
		}
	}

	user := &types.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: string(hashed),
		FullName:     req.FullName,
		PhoneNumber:  req.PhoneNumber,
		ReferredBy:   referredBy,
		DeviceID:     req.DeviceID,
		IsActive:     true,
	}
	// the code carries only four random digits per prefix, so a clash with
	// an existing user is rare but real; draw again instead of failing the
	// registration
	for attempt := 0; ; attempt++ {
		user.ReferralCode = newReferralCode(req.FullName)
		err = c.users.CreateUser(ctx, user, referrerID, referralRewardCoins)
		if errors.Is(err, database.ErrReferralCodeTaken) && attempt < 3 {
			continue
		}
		if err != nil {
			return nil, "", errors.Wrap(err, "users.CreateUser failed: ")
		}
		break
	}

	token, err := c.createJWT(user.ID)
	if err != nil {
		return nil, "", errors.Wrap(err, "createJWT failed: ")
	}
	return user, token, nil
}

func (c *Controller) Login(ctx context.Context, identifier, password string) (*types.User, string, error) {
	user, err := c.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(identifier)))
	if err != nil {
		return nil, "", errors.Wrap(err, "users.GetUserByEmail failed: ")
	}
	if !user.IsActive {
		return nil, "", ErrUserDisabled
	}
	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	if err != nil {
		return nil, "", errors.Wrap(err, "bcrypt.CompareHashAndPassword failed: ")
	}
	if err := c.users.TouchUserLogin(ctx, user.ID); err != nil {
		return nil, "", errors.Wrap(err, "users.TouchUserLogin failed: ")
	}
	token, err := c.createJWT(user.ID)
	if err != nil {
		return nil, "", errors.Wrap(err, "createJWT failed: ")
	}
	return user, token, nil
}

// ─── read paths ─────────────────────────────────────────────────────────

func (c *Controller) Profile(ctx context.Context, userID string) (*types.ProfileResponse, error) {
	user, err := c.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "users.GetUserByID failed: ")
	}
	wallet, err := c.wallets.GetWallet(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "wallets.GetWallet failed: ")
	}
	lifetime, err := c.wallets.LifetimeEarnings(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "wallets.LifetimeEarnings failed: ")
	}
	return &types.ProfileResponse{
		User:             user,
		Balance:          wallet.Balance.Rupees(),
		TotalCoins:       int64(wallet.Balance),
		LifetimeEarnings: lifetime.Rupees(),
	}, nil
}

// Offers merges the admin-managed task catalogue with whatever the
// offerwall cache currently holds. The upstream being down only shortens
// the list.
func (c *Controller) Offers(ctx context.Context) ([]types.Offer, error) {
	tasks, err := c.tasks.ListTasks(ctx, true)
	if err != nil {
		return nil, errors.Wrap(err, "tasks.ListTasks failed: ")
	}
	offers := make([]types.Offer, 0, len(tasks))
	for _, t := range tasks {
		offers = append(offers, types.Offer{
			ID:       t.ID,
			Title:    t.Title,
			Subtitle: t.Description,
			Reward:   t.Reward.Rupees(),
			IconURL:  t.IconURL,
			Category: t.Category,
			Source:   "internal",
		})
	}
	return append(offers, c.offers.Offers()...), nil
}

func (c *Controller) Surveys(ctx context.Context, userID string) []types.Survey {
	return c.surveys.Surveys(ctx, userID)
}

func (c *Controller) Streak(ctx context.Context, userID string) (*types.StreakResponse, error) {
	user, err := c.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "users.GetUserByID failed: ")
	}
	return &types.StreakResponse{
		Streak:       user.CurrentStreak,
		ClaimedToday: database.ClaimedToday(user.LastClaimDate, c.now()),
	}, nil
}

func (c *Controller) Transactions(ctx context.Context, userID string) ([]*types.Transaction, error) {
	return c.ledger.ListTransactions(ctx, userID, 100)
}

func (c *Controller) Withdrawals(ctx context.Context, userID string) ([]*types.Transaction, error) {
	return c.ledger.ListWithdrawals(ctx, userID)
}

// ─── wallet mutations ───────────────────────────────────────────────────

func (c *Controller) StartTask(ctx context.Context, userID, taskID string) error {
	return c.tasks.StartTask(ctx, userID, taskID)
}

func (c *Controller) CompleteTask(ctx context.Context, userID, taskID string) (types.Coins, error) {
	return c.tasks.CompleteUserTask(ctx, userID, taskID)
}

// ClaimDailyBonus accepts the ×10 rewarded-ad multiplier from the client
// but nothing else. There is no server-verifiable ad-completion proof in
// this surface, so the clamp bounds the damage a tampered client can do.
func (c *Controller) ClaimDailyBonus(ctx context.Context, userID string, multiplier int) (*types.BonusResult, error) {
	if multiplier == 0 {
		multiplier = 1
	}
	if multiplier != 1 && multiplier != 10 {
		return nil, ErrInvalidMultiplier
	}
	return c.wallets.ClaimDailyBonus(ctx, userID, multiplier, c.now())
}

func (c *Controller) ClaimVideoReward(ctx context.Context, userID string) (types.Coins, error) {
	return c.wallets.CreditWallet(ctx, userID, videoRewardCoins, "Rewarded video", types.TypeEarning)
}

func (c *Controller) AddCoins(ctx context.Context, userID string, coins int64, description string) (types.Coins, error) {
	if coins <= 0 || coins > maxGameCoins {
		return 0, ErrInvalidCoinAmount
	}
	if description == "" {
		description = "Mini game reward"
	}
	return c.wallets.CreditWallet(ctx, userID, types.Coins(coins), description, types.TypeEarning)
}

func (c *Controller) RequestWithdrawal(ctx context.Context, userID string, amountRupees float64, upiID string) (string, error) {
	if upiID == "" {
		return "", ErrInvalidUpiID
	}
	amount := types.FromRupees(amountRupees)
	if amount < minWithdrawalCoins {
		return "", ErrWithdrawalTooSmall
	}
	return c.wallets.RequestWithdrawal(ctx, userID, amount, upiID)
}

// CreditPostback applies an already-verified network event. Dedupe lives
// in the store, keyed by the network's own transaction id. The user lookup
// comes first so a callback for an id we never issued fails cleanly
// instead of as a constraint violation.
func (c *Controller) CreditPostback(ctx context.Context, ev postback.Event) (types.Coins, error) {
	if _, err := c.users.GetUserByID(ctx, ev.UserID); err != nil {
		return 0, errors.Wrap(err, "users.GetUserByID failed: ")
	}
	return c.wallets.CreditExternal(ctx, ev.UserID, ev.Amount, ev.Description(), ev.Type(), ev.Network, ev.ExternalTxID)
}

// ─── admin ──────────────────────────────────────────────────────────────

func (c *Controller) Stats(ctx context.Context) (*types.AdminStats, error) {
	return c.ledger.Stats(ctx)
}

func (c *Controller) Users(ctx context.Context) ([]*types.AdminUserRow, error) {
	return c.users.ListUsers(ctx)
}

func (c *Controller) SetUserActive(ctx context.Context, userID string, active bool) error {
	return c.users.SetUserActive(ctx, userID, active)
}

func (c *Controller) CreateTask(ctx context.Context, req *types.CreateTaskRequest) (string, error) {
	category := req.Category
	if category == "" {
		category = "App"
	}
	return c.tasks.CreateTask(ctx, &types.Task{
		Title:       req.Title,
		Description: req.Description,
		Reward:      types.FromRupees(req.Reward),
		IconURL:     req.IconURL,
		Category:    category,
		IsActive:    true,
	})
}

func (c *Controller) DeleteTask(ctx context.Context, taskID string) error {
	return c.tasks.DeleteTask(ctx, taskID)
}

func (c *Controller) SettleWithdrawal(ctx context.Context, transactionID, status, notes string) (*types.Transaction, error) {
	switch types.TransactionStatus(status) {
	case types.StatusCompleted:
		return c.wallets.SettleWithdrawal(ctx, transactionID, true, notes)
	case types.StatusFailed:
		return c.wallets.SettleWithdrawal(ctx, transactionID, false, notes)
	default:
		return nil, ErrInvalidSettleStatus
	}
}

func (c *Controller) Close() error {
	return c.databaseClose()
}

// ─── helpers ────────────────────────────────────────────────────────────

func (c *Controller) createJWT(id string) (string, error) {
	token := jwt.New(jwt.SigningMethodHS256)
	claims := token.Claims.(jwt.MapClaims)
	claims["id"] = id
	claims["exp"] = c.now().Add(tokenTTL).Unix()
	return token.SignedString(c.jwtSecret)
}

// newReferralCode follows the original format: the first four letters of
// the name upper-cased (non-letters become X) plus four random digits.
func newReferralCode(fullName string) string {
	prefix := make([]byte, 0, 4)
	for _, r := range strings.ToUpper(fullName) {
		if r >= 'A' && r <= 'Z' {
			prefix = append(prefix, byte(r))
		} else {
			prefix = append(prefix, 'X')
		}
		if len(prefix) == 4 {
			break
		}
	}
	if len(prefix) == 0 {
		prefix = []byte("USER")
	}
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		// crypto/rand failing means the process has bigger problems
		panic(err)
	}
	return string(prefix) + big.NewInt(0).Add(n, big.NewInt(1000)).String()
}

func cryptPassword(pass []byte) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword(pass, bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "bcrypt.GenerateFromPassword failed: ")
	}
	return hash, nil
}
