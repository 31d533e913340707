package router

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskbuks/taskbuks/internal/taskbuks/config"
	"github.com/taskbuks/taskbuks/internal/taskbuks/controller"
	"github.com/taskbuks/taskbuks/internal/taskbuks/database"
	"github.com/taskbuks/taskbuks/internal/taskbuks/postback"
	"github.com/taskbuks/taskbuks/internal/taskbuks/types"
	"go.uber.org/zap"
)

const testJWTSecret = "test-secret"
const testAdminKey = "admin-key"
const testRRSecret = "rr-secret"

// stubEngine answers every operation with canned values so tests can pin
// down status-code mapping without a database.
type stubEngine struct {
	err        error
	seenUserID string
	seenEvent  postback.Event
}

func (s *stubEngine) Register(_ context.Context, req *types.RegisterRequest) (*types.User, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return &types.User{ID: "u-1", Email: req.Email}, "token", nil
}

func (s *stubEngine) Login(_ context.Context, identifier, _ string) (*types.User, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return &types.User{ID: "u-1", Email: identifier}, "token", nil
}

func (s *stubEngine) Profile(_ context.Context, userID string) (*types.ProfileResponse, error) {
	s.seenUserID = userID
	if s.err != nil {
		return nil, s.err
	}
	return &types.ProfileResponse{User: &types.User{ID: userID}, Balance: 2.5}, nil
}

func (s *stubEngine) Offers(context.Context) ([]types.Offer, error) {
	return []types.Offer{{ID: "o1", Source: "internal"}}, s.err
}

func (s *stubEngine) Surveys(context.Context, string) []types.Survey { return nil }

func (s *stubEngine) Streak(_ context.Context, userID string) (*types.StreakResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &types.StreakResponse{Streak: 3}, nil
}

func (s *stubEngine) Transactions(context.Context, string) ([]*types.Transaction, error) {
	return nil, s.err
}

func (s *stubEngine) Withdrawals(_ context.Context, userID string) ([]*types.Transaction, error) {
	s.seenUserID = userID
	return nil, s.err
}

func (s *stubEngine) StartTask(_ context.Context, userID, _ string) error {
	s.seenUserID = userID
	return s.err
}

func (s *stubEngine) CompleteTask(context.Context, string, string) (types.Coins, error) {
	return 5000, s.err
}

func (s *stubEngine) ClaimDailyBonus(context.Context, string, int) (*types.BonusResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &types.BonusResult{Streak: 1, Reward: 1000, NewBalance: 1000}, nil
}

func (s *stubEngine) ClaimVideoReward(context.Context, string) (types.Coins, error) {
	return 500, s.err
}

func (s *stubEngine) AddCoins(context.Context, string, int64, string) (types.Coins, error) {
	return 100, s.err
}

func (s *stubEngine) RequestWithdrawal(context.Context, string, float64, string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "w-1", nil
}

func (s *stubEngine) CreditPostback(_ context.Context, ev postback.Event) (types.Coins, error) {
	s.seenEvent = ev
	if s.err != nil {
		return 0, s.err
	}
	return ev.Amount, nil
}

func (s *stubEngine) Stats(context.Context) (*types.AdminStats, error) {
	return &types.AdminStats{TotalUsers: 7}, s.err
}

func (s *stubEngine) Users(context.Context) ([]*types.AdminUserRow, error) { return nil, s.err }

func (s *stubEngine) SetUserActive(context.Context, string, bool) error { return s.err }

func (s *stubEngine) CreateTask(context.Context, *types.CreateTaskRequest) (string, error) {
	return "t-1", s.err
}

func (s *stubEngine) DeleteTask(context.Context, string) error { return s.err }

func (s *stubEngine) SettleWithdrawal(context.Context, string, string, string) (*types.Transaction, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &types.Transaction{ID: "w-1", Type: types.TypeWithdrawal, Status: types.StatusCompleted}, nil
}

func (s *stubEngine) Close() error { return nil }

func newTestRouter(engine *stubEngine) *HttpRouter {
	cfg := &config.Config{
		HttpPort:  "0",
		JWTSecret: testJWTSecret,
		AdminKey:  testAdminKey,
		Postback:  config.Postback{RapidReachSecret: testRRSecret},
	}
	return CreateRouter(engine, postback.NewVerifier(cfg.Postback), cfg, zap.NewNop())
}

func bearerToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.New(jwt.SigningMethodHS256)
	claims := token.Claims.(jwt.MapClaims)
	claims["id"] = userID
	claims["exp"] = time.Now().Add(time.Hour).Unix()
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func doJSON(t *testing.T, r *HttpRouter, method, path, body string, header map[string]string) *http.Response {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := r.App.Test(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	r := newTestRouter(&stubEngine{})
	resp := doJSON(t, r, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBearerAuth(t *testing.T) {
	engine := &stubEngine{}
	r := newTestRouter(engine)

	t.Run("missing token", func(t *testing.T) {
		resp := doJSON(t, r, http.MethodGet, "/api/profile", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("garbage token", func(t *testing.T) {
		resp := doJSON(t, r, http.MethodGet, "/api/profile", "", map[string]string{"Authorization": "Bearer nope"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("token signed with another secret", func(t *testing.T) {
		token := jwt.New(jwt.SigningMethodHS256)
		token.Claims.(jwt.MapClaims)["id"] = "u-1"
		signed, err := token.SignedString([]byte("other-secret"))
		require.NoError(t, err)
		resp := doJSON(t, r, http.MethodGet, "/api/profile", "", map[string]string{"Authorization": "Bearer " + signed})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid signature without an id claim", func(t *testing.T) {
		token := jwt.New(jwt.SigningMethodHS256)
		token.Claims.(jwt.MapClaims)["exp"] = time.Now().Add(time.Hour).Unix()
		signed, err := token.SignedString([]byte(testJWTSecret))
		require.NoError(t, err)

		engine.seenUserID = "untouched"
		resp := doJSON(t, r, http.MethodGet, "/api/withdraw/status", "", map[string]string{"Authorization": "Bearer " + signed})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "untouched", engine.seenUserID, "the engine must never see an empty user id")
	})

	t.Run("valid token reaches the engine with its id claim", func(t *testing.T) {
		resp := doJSON(t, r, http.MethodGet, "/api/profile", "", map[string]string{"Authorization": bearerToken(t, "u-42")})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "u-42", engine.seenUserID)
	})
}

func TestLoginStatusMapping(t *testing.T) {
	t.Run("unknown user and wrong password look identical", func(t *testing.T) {
		r := newTestRouter(&stubEngine{err: database.ErrUserNotExist})
		resp := doJSON(t, r, http.MethodPost, "/auth/login", `{"identifier":"a@b.c","password":"x"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, invalidCredentialsMessage, decodeBody(t, resp)["message"])
	})

	t.Run("disabled account", func(t *testing.T) {
		r := newTestRouter(&stubEngine{err: controller.ErrUserDisabled})
		resp := doJSON(t, r, http.MethodPost, "/auth/login", `{"identifier":"a@b.c","password":"x"}`, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("missing fields", func(t *testing.T) {
		r := newTestRouter(&stubEngine{})
		resp := doJSON(t, r, http.MethodPost, "/auth/login", `{"identifier":"a@b.c"}`, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestEngineErrorMapping(t *testing.T) {
	auth := map[string]string{"Authorization": ""}

	cases := []struct {
		name   string
		err    error
		method string
		path   string
		body   string
		want   int
	}{
		{"duplicate email", database.ErrUserAlreadyExist, http.MethodPost, "/auth/register", `{"full_name":"R","email":"a@b.c","password":"x"}`, http.StatusConflict},
		{"bonus already claimed", database.ErrAlreadyClaimedToday, http.MethodPost, "/api/bonus/claim", `{"multiplier":1}`, http.StatusBadRequest},
		{"bad multiplier", controller.ErrInvalidMultiplier, http.MethodPost, "/api/bonus/claim", `{"multiplier":5}`, http.StatusBadRequest},
		{"task not started", database.ErrInvalidTaskState, http.MethodPost, "/api/task/complete", `{"taskId":"t-1"}`, http.StatusBadRequest},
		{"unknown task", database.ErrTaskNotExist, http.MethodPost, "/api/task/start", `{"taskId":"t-9"}`, http.StatusNotFound},
		{"withdrawal below minimum", controller.ErrWithdrawalTooSmall, http.MethodPost, "/api/withdraw/request", `{"amount":5,"upiId":"a@upi"}`, http.StatusBadRequest},
		{"insufficient balance", database.ErrInsufficientBalance, http.MethodPost, "/api/withdraw/request", `{"amount":100,"upiId":"a@upi"}`, http.StatusBadRequest},
		{"coin amount out of range", controller.ErrInvalidCoinAmount, http.MethodPost, "/api/coins/add", `{"coins":9999}`, http.StatusBadRequest},
		{"unexpected failure", assert.AnError, http.MethodGet, "/api/profile", "", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(&stubEngine{err: tc.err})
			auth["Authorization"] = bearerToken(t, "u-1")
			resp := doJSON(t, r, tc.method, tc.path, tc.body, auth)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestAdminKey(t *testing.T) {
	r := newTestRouter(&stubEngine{})

	t.Run("missing key", func(t *testing.T) {
		resp := doJSON(t, r, http.MethodGet, "/admin/stats", "", nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("wrong key", func(t *testing.T) {
		resp := doJSON(t, r, http.MethodGet, "/admin/stats", "", map[string]string{"x-admin-key": "guess"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("a user token is not an admin key", func(t *testing.T) {
		resp := doJSON(t, r, http.MethodGet, "/admin/stats", "", map[string]string{"Authorization": bearerToken(t, "u-1")})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("correct key", func(t *testing.T) {
		resp := doJSON(t, r, http.MethodGet, "/admin/stats", "", map[string]string{"x-admin-key": testAdminKey})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestSettleWithdrawalMapping(t *testing.T) {
	adminHeader := map[string]string{"x-admin-key": testAdminKey}

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"unknown id", database.ErrWithdrawalNotExist, http.StatusNotFound},
		{"already settled", database.ErrInvalidStateTransition, http.StatusBadRequest},
		{"bad status value", controller.ErrInvalidSettleStatus, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(&stubEngine{err: tc.err})
			resp := doJSON(t, r, http.MethodPost, "/admin/withdrawals/update",
				`{"transactionId":"w-1","status":"COMPLETED"}`, adminHeader)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func signedRapidReachURL(txID, userID, coins string) string {
	mac := hmac.New(sha256.New, []byte(testRRSecret))
	mac.Write([]byte(txID + ":" + userID + ":" + coins))
	return "/api/pb/rr?tx_id=" + txID + "&user_id=" + userID + "&coins=" + coins +
		"&sig=" + hex.EncodeToString(mac.Sum(nil))
}

func TestPostbackEndpoint(t *testing.T) {
	t.Run("valid callback credits and acks", func(t *testing.T) {
		engine := &stubEngine{}
		r := newTestRouter(engine)
		resp := doJSON(t, r, http.MethodGet, signedRapidReachURL("tx-1", "u-1", "750"), "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, postback.NetworkRapidReach, engine.seenEvent.Network)
		assert.Equal(t, types.Coins(750), engine.seenEvent.Amount)
	})

	t.Run("no jwt required", func(t *testing.T) {
		r := newTestRouter(&stubEngine{})
		resp := doJSON(t, r, http.MethodGet, signedRapidReachURL("tx-1", "u-1", "750"), "", nil)
		assert.NotEqual(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("tampered amount", func(t *testing.T) {
		r := newTestRouter(&stubEngine{})
		url := strings.Replace(signedRapidReachURL("tx-1", "u-1", "750"), "coins=750", "coins=999750", 1)
		resp := doJSON(t, r, http.MethodGet, url, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("missing parameters", func(t *testing.T) {
		r := newTestRouter(&stubEngine{})
		resp := doJSON(t, r, http.MethodGet, "/api/pb/rr?tx_id=tx-1", "", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("replay is acknowledged without credit", func(t *testing.T) {
		r := newTestRouter(&stubEngine{err: database.ErrDuplicateEvent})
		resp := doJSON(t, r, http.MethodGet, signedRapidReachURL("tx-1", "u-1", "750"), "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "duplicate", decodeBody(t, resp)["message"])
	})

	t.Run("unknown user is acknowledged", func(t *testing.T) {
		r := newTestRouter(&stubEngine{err: database.ErrUserNotExist})
		resp := doJSON(t, r, http.MethodGet, signedRapidReachURL("tx-1", "ghost", "750"), "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("store failure asks the network to retry", func(t *testing.T) {
		r := newTestRouter(&stubEngine{err: assert.AnError})
		resp := doJSON(t, r, http.MethodGet, signedRapidReachURL("tx-1", "u-1", "750"), "", nil)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})

	t.Run("long and short rapidreach paths match", func(t *testing.T) {
		engine := &stubEngine{}
		r := newTestRouter(engine)
		url := strings.Replace(signedRapidReachURL("tx-2", "u-1", "10"), "/api/pb/rr", "/api/postback/rapidreach", 1)
		resp := doJSON(t, r, http.MethodGet, url, "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "tx-2", engine.seenEvent.ExternalTxID)
	})
}
