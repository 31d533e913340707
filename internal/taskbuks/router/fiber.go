package router

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/golang-jwt/jwt/v5"
	"github.com/taskbuks/taskbuks/internal/taskbuks/config"
	"github.com/taskbuks/taskbuks/internal/taskbuks/controller"
	"github.com/taskbuks/taskbuks/internal/taskbuks/database"
	"github.com/taskbuks/taskbuks/internal/taskbuks/postback"
	"github.com/taskbuks/taskbuks/internal/taskbuks/router/middleware"
	"github.com/taskbuks/taskbuks/internal/taskbuks/types"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type rewardEngine interface {
	Register(ctx context.Context, req *types.RegisterRequest) (*types.User, string, error)
	Login(ctx context.Context, identifier, password string) (*types.User, string, error)
	Profile(ctx context.Context, userID string) (*types.ProfileResponse, error)
	Offers(ctx context.Context) ([]types.Offer, error)
	Surveys(ctx context.Context, userID string) []types.Survey
	Streak(ctx context.Context, userID string) (*types.StreakResponse, error)
	Transactions(ctx context.Context, userID string) ([]*types.Transaction, error)
	Withdrawals(ctx context.Context, userID string) ([]*types.Transaction, error)
	StartTask(ctx context.Context, userID, taskID string) error
	CompleteTask(ctx context.Context, userID, taskID string) (types.Coins, error)
	ClaimDailyBonus(ctx context.Context, userID string, multiplier int) (*types.BonusResult, error)
	ClaimVideoReward(ctx context.Context, userID string) (types.Coins, error)
	AddCoins(ctx context.Context, userID string, coins int64, description string) (types.Coins, error)
	RequestWithdrawal(ctx context.Context, userID string, amountRupees float64, upiID string) (string, error)
	CreditPostback(ctx context.Context, ev postback.Event) (types.Coins, error)
	Stats(ctx context.Context) (*types.AdminStats, error)
	Users(ctx context.Context) ([]*types.AdminUserRow, error)
	SetUserActive(ctx context.Context, userID string, active bool) error
	CreateTask(ctx context.Context, req *types.CreateTaskRequest) (string, error)
	DeleteTask(ctx context.Context, taskID string) error
	SettleWithdrawal(ctx context.Context, transactionID, status, notes string) (*types.Transaction, error)
	Close() error
}

type HttpRouter struct {
	engine   rewardEngine
	verifier *postback.Verifier
	*fiber.App
	appLogger *zap.Logger
	httpPort  string
}

const internalServerErrorMessage = "Something went wrong on our side"
const badRequestMessage = "Invalid request payload"
const invalidCredentialsMessage = "Invalid email or password"

func (r *HttpRouter) Run() error {
	return r.App.Listen(":" + r.httpPort)
}

func (r *HttpRouter) Close() error {
	if err := r.engine.Close(); err != nil {
		r.appLogger.Error("engine.Close failed: ", zap.Error(err))
	}
	return r.App.Shutdown()
}

func (r *HttpRouter) Health(ctx *fiber.Ctx) error {
	return ctx.JSON(fiber.Map{"status": "ok", "service": "taskbuks"})
}

// ─── auth ───────────────────────────────────────────────────────────────

func (r *HttpRouter) Register(ctx *fiber.Ctx) error {
	request := &types.RegisterRequest{}
	err := ctx.BodyParser(request)
	if err != nil {
		r.appLogger.Error("ctx.BodyParser failed: ", zap.Error(err))
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}
	if request.Email == "" || request.Password == "" || request.FullName == "" {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Name, email and password are required"})
	}
	user, token, err := r.engine.Register(ctx.Context(), request)
	if errors.Is(err, database.ErrUserAlreadyExist) {
		r.appLogger.Error("engine.Register failed: ", zap.Error(err))
		ctx.Status(http.StatusConflict)
		return ctx.JSON(fiber.Map{"status": "error", "message": "An account with this email already exists"})
	}
	if err != nil {
		r.appLogger.Error("engine.Register failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	ctx.Status(http.StatusCreated)
	return ctx.JSON(fiber.Map{"status": "success", "token": token, "user": user})
}

func (r *HttpRouter) Login(ctx *fiber.Ctx) error {
	request := &types.LoginRequest{}
	err := ctx.BodyParser(request)
	if err != nil {
		r.appLogger.Error("ctx.BodyParser failed: ", zap.Error(err))
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}
	if request.Identifier == "" || request.Password == "" {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Email and password are required"})
	}
	user, token, err := r.engine.Login(ctx.Context(), request.Identifier, request.Password)
	if errors.Is(err, database.ErrUserNotExist) || errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		r.appLogger.Error("engine.Login failed: ", zap.Error(err))
		ctx.Status(http.StatusUnauthorized)
		return ctx.JSON(fiber.Map{"status": "error", "message": invalidCredentialsMessage})
	}
	if errors.Is(err, controller.ErrUserDisabled) {
		r.appLogger.Error("engine.Login failed: ", zap.Error(err))
		ctx.Status(http.StatusForbidden)
		return ctx.JSON(fiber.Map{"status": "error", "message": "This account has been disabled"})
	}
	if err != nil {
		r.appLogger.Error("engine.Login failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	ctx.Status(http.StatusOK)
	return ctx.JSON(fiber.Map{"status": "success", "token": token, "user": user})
}

// ─── user surface ───────────────────────────────────────────────────────

func (r *HttpRouter) Profile(ctx *fiber.Ctx) error {
	profile, err := r.engine.Profile(ctx.Context(), userID(ctx))
	if errors.Is(err, database.ErrUserNotExist) || errors.Is(err, database.ErrWalletNotExist) {
		r.appLogger.Error("engine.Profile failed: ", zap.Error(err))
		ctx.Status(http.StatusNotFound)
		return ctx.JSON(fiber.Map{"status": "error", "message": "User not found"})
	}
	if err != nil {
		r.appLogger.Error("engine.Profile failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	return ctx.JSON(profile)
}

func (r *HttpRouter) Offers(ctx *fiber.Ctx) error {
	offers, err := r.engine.Offers(ctx.Context())
	if err != nil {
		r.appLogger.Error("engine.Offers failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	return ctx.JSON(offers)
}

func (r *HttpRouter) Surveys(ctx *fiber.Ctx) error {
	return ctx.JSON(r.engine.Surveys(ctx.Context(), userID(ctx)))
}

func (r *HttpRouter) Streak(ctx *fiber.Ctx) error {
	streak, err := r.engine.Streak(ctx.Context(), userID(ctx))
	if errors.Is(err, database.ErrUserNotExist) {
		r.appLogger.Error("engine.Streak failed: ", zap.Error(err))
		ctx.Status(http.StatusNotFound)
		return ctx.JSON(fiber.Map{"status": "error", "message": "User not found"})
	}
	if err != nil {
		r.appLogger.Error("engine.Streak failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	return ctx.JSON(streak)
}

func (r *HttpRouter) Transactions(ctx *fiber.Ctx) error {
	transactions, err := r.engine.Transactions(ctx.Context(), userID(ctx))
	if err != nil {
		r.appLogger.Error("engine.Transactions failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	return ctx.JSON(transactionViews(transactions))
}

func (r *HttpRouter) WithdrawStatus(ctx *fiber.Ctx) error {
	withdrawals, err := r.engine.Withdrawals(ctx.Context(), userID(ctx))
	if err != nil {
		r.appLogger.Error("engine.Withdrawals failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	return ctx.JSON(transactionViews(withdrawals))
}

// ─── earning actions ────────────────────────────────────────────────────

func (r *HttpRouter) StartTask(ctx *fiber.Ctx) error {
	request := &types.StartTaskRequest{}
	err := ctx.BodyParser(request)
	if err != nil {
		r.appLogger.Error("ctx.BodyParser failed: ", zap.Error(err))
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}
	if request.TaskID == "" {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Task id is required"})
	}
	err = r.engine.StartTask(ctx.Context(), userID(ctx), request.TaskID)
	if errors.Is(err, database.ErrTaskNotExist) {
		r.appLogger.Error("engine.StartTask failed: ", zap.Error(err))
		ctx.Status(http.StatusNotFound)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Task not found"})
	}
	if err != nil {
		r.appLogger.Error("engine.StartTask failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	ctx.Status(http.StatusOK)
	return ctx.JSON(fiber.Map{"status": "success"})
}

func (r *HttpRouter) CompleteTask(ctx *fiber.Ctx) error {
	request := &types.CompleteTaskRequest{}
	err := ctx.BodyParser(request)
	if err != nil {
		r.appLogger.Error("ctx.BodyParser failed: ", zap.Error(err))
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}
	if request.TaskID == "" {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Task id is required"})
	}
	reward, err := r.engine.CompleteTask(ctx.Context(), userID(ctx), request.TaskID)
	if errors.Is(err, database.ErrTaskNotExist) {
		r.appLogger.Error("engine.CompleteTask failed: ", zap.Error(err))
		ctx.Status(http.StatusNotFound)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Task not found"})
	}
	if errors.Is(err, database.ErrInvalidTaskState) {
		r.appLogger.Error("engine.CompleteTask failed: ", zap.Error(err))
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Task not started or already completed"})
	}
	if err != nil {
		r.appLogger.Error("engine.CompleteTask failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	ctx.Status(http.StatusOK)
	return ctx.JSON(fiber.Map{"status": "success", "reward": reward.Rupees(), "coins": int64(reward)})
}

func (r *HttpRouter) ClaimBonus(ctx *fiber.Ctx) error {
	request := &types.ClaimBonusRequest{}
	err := ctx.BodyParser(request)
	if err != nil {
		r.appLogger.Error("ctx.BodyParser failed: ", zap.Error(err))
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}
	result, err := r.engine.ClaimDailyBonus(ctx.Context(), userID(ctx), request.Multiplier)
	if errors.Is(err, controller.ErrInvalidMultiplier) {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Multiplier not allowed"})
	}
	if errors.Is(err, database.ErrAlreadyClaimedToday) {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Bonus already claimed today"})
	}
	if errors.Is(err, database.ErrUserNotExist) {
		r.appLogger.Error("engine.ClaimDailyBonus failed: ", zap.Error(err))
		ctx.Status(http.StatusNotFound)
		return ctx.JSON(fiber.Map{"status": "error", "message": "User not found"})
	}
	if err != nil {
		r.appLogger.Error("engine.ClaimDailyBonus failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	ctx.Status(http.StatusOK)
	return ctx.JSON(fiber.Map{
		"status":  "success",
		"streak":  result.Streak,
		"reward":  result.Reward.Rupees(),
		"coins":   int64(result.Reward),
		"balance": result.NewBalance.Rupees(),
	})
}

func (r *HttpRouter) VideoReward(ctx *fiber.Ctx) error {
	balance, err := r.engine.ClaimVideoReward(ctx.Context(), userID(ctx))
	if errors.Is(err, database.ErrWalletNotExist) {
		r.appLogger.Error("engine.ClaimVideoReward failed: ", zap.Error(err))
		ctx.Status(http.StatusNotFound)
		return ctx.JSON(fiber.Map{"status": "error", "message": "User not found"})
	}
	if err != nil {
		r.appLogger.Error("engine.ClaimVideoReward failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	ctx.Status(http.StatusOK)
	return ctx.JSON(fiber.Map{"status": "success", "balance": balance.Rupees()})
}

func (r *HttpRouter) AddCoins(ctx *fiber.Ctx) error {
	request := &types.AddCoinsRequest{}
	err := ctx.BodyParser(request)
	if err != nil {
		r.appLogger.Error("ctx.BodyParser failed: ", zap.Error(err))
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}
	balance, err := r.engine.AddCoins(ctx.Context(), userID(ctx), request.Coins, request.Description)
	if errors.Is(err, controller.ErrInvalidCoinAmount) {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Coin amount out of range"})
	}
	if errors.Is(err, database.ErrWalletNotExist) {
		r.appLogger.Error("engine.AddCoins failed: ", zap.Error(err))
		ctx.Status(http.StatusNotFound)
		return ctx.JSON(fiber.Map{"status": "error", "message": "User not found"})
	}
	if err != nil {
		r.appLogger.Error("engine.AddCoins failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	ctx.Status(http.StatusOK)
	return ctx.JSON(fiber.Map{"status": "success", "balance": balance.Rupees()})
}

func (r *HttpRouter) RequestWithdrawal(ctx *fiber.Ctx) error {
	request := &types.WithdrawRequest{}
	err := ctx.BodyParser(request)
	if err != nil {
		r.appLogger.Error("ctx.BodyParser failed: ", zap.Error(err))
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}
	id, err := r.engine.RequestWithdrawal(ctx.Context(), userID(ctx), request.Amount, request.UpiID)
	if errors.Is(err, controller.ErrInvalidUpiID) {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": "UPI id is required"})
	}
	if errors.Is(err, controller.ErrWithdrawalTooSmall) {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Minimum withdrawal amount is ₹100"})
	}
	if errors.Is(err, database.ErrInsufficientBalance) {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Insufficient balance"})
	}
	if errors.Is(err, database.ErrWalletNotExist) {
		r.appLogger.Error("engine.RequestWithdrawal failed: ", zap.Error(err))
		ctx.Status(http.StatusNotFound)
		return ctx.JSON(fiber.Map{"status": "error", "message": "User not found"})
	}
	if err != nil {
		r.appLogger.Error("engine.RequestWithdrawal failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	ctx.Status(http.StatusCreated)
	return ctx.JSON(fiber.Map{"status": "success", "transactionId": id})
}

// ─── network postbacks ──────────────────────────────────────────────────

func (r *HttpRouter) PostbackAdGem(ctx *fiber.Ctx) error {
	event, err := r.verifier.ParseAdGem(ctx.Path(), queryValues(ctx))
	return r.finishPostback(ctx, event, err)
}

func (r *HttpRouter) PostbackCPX(ctx *fiber.Ctx) error {
	event, err := r.verifier.ParseCPX(queryValues(ctx))
	return r.finishPostback(ctx, event, err)
}

func (r *HttpRouter) PostbackRapidReach(ctx *fiber.Ctx) error {
	event, err := r.verifier.ParseRapidReach(queryValues(ctx))
	return r.finishPostback(ctx, event, err)
}

// finishPostback maps verification and credit outcomes to the codes ad
// networks key their retry loops on: 200 means stop (credited, duplicate,
// unqualified, or an id we never issued), 401 means the request was not
// ours, 5xx means try again later. Retries are safe, the dedupe index
// absorbs them.
func (r *HttpRouter) finishPostback(ctx *fiber.Ctx, event postback.Event, err error) error {
	if errors.Is(err, postback.ErrNotQualified) {
		return ctx.JSON(fiber.Map{"status": "ok", "message": "not qualified"})
	}
	if errors.Is(err, postback.ErrMissingParams) {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": "missing parameters"})
	}
	if errors.Is(err, postback.ErrBadSignature) {
		r.appLogger.Warn("postback signature rejected", zap.String("path", ctx.Path()))
		ctx.Status(http.StatusUnauthorized)
		return ctx.JSON(fiber.Map{"status": "error", "message": "signature mismatch"})
	}
	if err != nil {
		r.appLogger.Error("postback parse failed: ", zap.Error(err))
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": "invalid postback"})
	}

	_, err = r.engine.CreditPostback(ctx.Context(), event)
	if errors.Is(err, database.ErrDuplicateEvent) {
		return ctx.JSON(fiber.Map{"status": "ok", "message": "duplicate"})
	}
	if errors.Is(err, database.ErrUserNotExist) {
		r.appLogger.Warn("postback for unknown user",
			zap.String("network", event.Network), zap.String("user_id", event.UserID))
		return ctx.JSON(fiber.Map{"status": "ok", "message": "unknown user"})
	}
	if err != nil {
		r.appLogger.Error("engine.CreditPostback failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": "temporary failure"})
	}
	return ctx.JSON(fiber.Map{"status": "ok", "message": "credited"})
}

// ─── admin ──────────────────────────────────────────────────────────────

func (r *HttpRouter) AdminStats(ctx *fiber.Ctx) error {
	stats, err := r.engine.Stats(ctx.Context())
	if err != nil {
		r.appLogger.Error("engine.Stats failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	return ctx.JSON(stats)
}

func (r *HttpRouter) AdminUsers(ctx *fiber.Ctx) error {
	users, err := r.engine.Users(ctx.Context())
	if err != nil {
		r.appLogger.Error("engine.Users failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	return ctx.JSON(users)
}

func (r *HttpRouter) AdminBanUser(ctx *fiber.Ctx) error {
	request := &types.BanUserRequest{}
	err := ctx.BodyParser(request)
	if err != nil {
		r.appLogger.Error("ctx.BodyParser failed: ", zap.Error(err))
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}
	if request.UserID == "" {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": "User id is required"})
	}
	err = r.engine.SetUserActive(ctx.Context(), request.UserID, request.IsActive)
	if errors.Is(err, database.ErrUserNotExist) {
		ctx.Status(http.StatusNotFound)
		return ctx.JSON(fiber.Map{"status": "error", "message": "User not found"})
	}
	if err != nil {
		r.appLogger.Error("engine.SetUserActive failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	ctx.Status(http.StatusOK)
	return ctx.JSON(fiber.Map{"status": "success"})
}

func (r *HttpRouter) AdminCreateTask(ctx *fiber.Ctx) error {
	request := &types.CreateTaskRequest{}
	err := ctx.BodyParser(request)
	if err != nil {
		r.appLogger.Error("ctx.BodyParser failed: ", zap.Error(err))
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}
	if request.Title == "" || request.Reward <= 0 {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": "A task needs a title and a positive reward"})
	}
	id, err := r.engine.CreateTask(ctx.Context(), request)
	if err != nil {
		r.appLogger.Error("engine.CreateTask failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	ctx.Status(http.StatusCreated)
	return ctx.JSON(fiber.Map{"status": "success", "id": id})
}

func (r *HttpRouter) AdminDeleteTask(ctx *fiber.Ctx) error {
	request := &types.DeleteTaskRequest{}
	err := ctx.BodyParser(request)
	if err != nil {
		r.appLogger.Error("ctx.BodyParser failed: ", zap.Error(err))
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}
	if request.TaskID == "" {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Task id is required"})
	}
	err = r.engine.DeleteTask(ctx.Context(), request.TaskID)
	if errors.Is(err, database.ErrTaskNotExist) {
		ctx.Status(http.StatusNotFound)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Task not found"})
	}
	if err != nil {
		r.appLogger.Error("engine.DeleteTask failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	ctx.Status(http.StatusOK)
	return ctx.JSON(fiber.Map{"status": "success"})
}

func (r *HttpRouter) AdminWithdrawals(ctx *fiber.Ctx) error {
	withdrawals, err := r.engine.Withdrawals(ctx.Context(), ctx.Query("userId"))
	if err != nil {
		r.appLogger.Error("engine.Withdrawals failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	return ctx.JSON(transactionViews(withdrawals))
}

func (r *HttpRouter) AdminSettleWithdrawal(ctx *fiber.Ctx) error {
	request := &types.SettleWithdrawalRequest{}
	err := ctx.BodyParser(request)
	if err != nil {
		r.appLogger.Error("ctx.BodyParser failed: ", zap.Error(err))
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": badRequestMessage})
	}
	if request.TransactionID == "" {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Transaction id is required"})
	}
	settled, err := r.engine.SettleWithdrawal(ctx.Context(), request.TransactionID, request.Status, request.Notes)
	if errors.Is(err, controller.ErrInvalidSettleStatus) {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Status must be COMPLETED or FAILED"})
	}
	if errors.Is(err, database.ErrWithdrawalNotExist) {
		ctx.Status(http.StatusNotFound)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Withdrawal not found"})
	}
	if errors.Is(err, database.ErrInvalidStateTransition) {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Withdrawal already settled"})
	}
	if err != nil {
		r.appLogger.Error("engine.SettleWithdrawal failed: ", zap.Error(err))
		ctx.Status(http.StatusInternalServerError)
		return ctx.JSON(fiber.Map{"status": "error", "message": internalServerErrorMessage})
	}
	ctx.Status(http.StatusOK)
	view := types.NewTransactionView(settled)
	return ctx.JSON(fiber.Map{"status": "success", "withdrawal": view})
}

// ─── helpers ────────────────────────────────────────────────────────────

// requireUser rejects tokens that verify but carry no id claim. Without
// it an empty user id would leak into store queries where "" means
// something else (ListWithdrawals treats it as the every-user view).
func (r *HttpRouter) requireUser(ctx *fiber.Ctx) error {
	if userID(ctx) == "" {
		ctx.Status(http.StatusUnauthorized)
		return ctx.JSON(fiber.Map{"status": "error", "message": "Authorization required"})
	}
	return ctx.Next()
}

// userID reads the id claim the jwt middleware already verified.
func userID(ctx *fiber.Ctx) string {
	token, ok := ctx.Locals("user").(*jwt.Token)
	if !ok {
		return ""
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	id, _ := claims["id"].(string)
	return id
}

func queryValues(ctx *fiber.Ctx) url.Values {
	values := url.Values{}
	ctx.Context().QueryArgs().VisitAll(func(k, v []byte) {
		values.Add(string(k), string(v))
	})
	return values
}

func transactionViews(transactions []*types.Transaction) []types.TransactionView {
	views := make([]types.TransactionView, 0, len(transactions))
	for _, t := range transactions {
		views = append(views, types.NewTransactionView(t))
	}
	return views
}

func CreateRouter(engine rewardEngine, verifier *postback.Verifier, cfg *config.Config, logger *zap.Logger) *HttpRouter {
	appLogger := logger.Named("app")
	app := fiber.New()
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(cors.New())

	r := &HttpRouter{engine: engine, verifier: verifier, App: app, appLogger: appLogger, httpPort: cfg.HttpPort}

	app.Get("/", r.Health)

	auth := r.Group("/auth")
	auth.Post("/register", r.Register)
	auth.Post("/login", r.Login)

	// postbacks carry their own signatures, so they sit outside the jwt
	// group; registration order keeps them ahead of the /api middleware
	app.Get("/api/postback/adgem", r.PostbackAdGem)
	app.Get("/api/postback/cpx", r.PostbackCPX)
	app.Get("/api/postback/rapidreach", r.PostbackRapidReach)
	app.Get("/api/pb/rr", r.PostbackRapidReach)

	api := r.Group("/api", middleware.Protected([]byte(cfg.JWTSecret)), r.requireUser)
	api.Get("/profile", r.Profile)
	api.Get("/offers", r.Offers)
	api.Get("/streak", r.Streak)
	api.Get("/surveys", r.Surveys)
	api.Get("/transactions", r.Transactions)
	api.Get("/withdraw/status", r.WithdrawStatus)
	api.Post("/task/start", r.StartTask)
	api.Post("/task/complete", r.CompleteTask)
	api.Post("/bonus/claim", r.ClaimBonus)
	api.Post("/reward/video", r.VideoReward)
	api.Post("/coins/add", r.AddCoins)
	api.Post("/withdraw/request", r.RequestWithdrawal)

	admin := r.Group("/admin", middleware.AdminOnly(cfg.AdminKey))
	admin.Get("/stats", r.AdminStats)
	admin.Get("/users", r.AdminUsers)
	admin.Post("/users/ban", r.AdminBanUser)
	admin.Post("/tasks/create", r.AdminCreateTask)
	admin.Post("/tasks/delete", r.AdminDeleteTask)
	admin.Get("/withdrawals", r.AdminWithdrawals)
	admin.Post("/withdrawals/update", r.AdminSettleWithdrawal)
	return r
}
