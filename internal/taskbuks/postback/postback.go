// Package postback validates server-to-server callbacks from ad and survey
// networks. Parsing and verification are pure: nothing here touches the
// ledger, a verified Event only gates the credit that follows.
package postback

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/taskbuks/taskbuks/internal/taskbuks/config"
	"github.com/taskbuks/taskbuks/internal/taskbuks/types"
)

const (
	NetworkAdGem      = "adgem"
	NetworkCPX        = "cpx"
	NetworkRapidReach = "rapidreach"
)

var ErrBadSignature = errors.New("postback signature mismatch")
var ErrMissingParams = errors.New("postback missing required parameters")
var ErrNotQualified = errors.New("postback status not qualified")

// Event is the network-agnostic record handed to the reward engine. The
// engine dedupes on (Network, ExternalTxID); amounts are already coins.
type Event struct {
	Network      string
	ExternalTxID string
	UserID       string
	Amount       types.Coins
}

func (e Event) Type() types.TransactionType {
	if e.Network == NetworkCPX {
		return types.TypeSurvey
	}
	return types.TypeEarning
}

func (e Event) Description() string {
	return fmt.Sprintf("Offer reward (%s)", e.Network)
}

type Verifier struct {
	cfg config.Postback
}

func NewVerifier(cfg config.Postback) *Verifier {
	return &Verifier{cfg: cfg}
}

// ParseAdGem checks an HMAC-SHA256 signature computed over the canonical
// request URL with the signature parameter itself stripped.
// Params: player_id, amount (rupees), transaction_id, signature.
func (v *Verifier) ParseAdGem(path string, query url.Values) (Event, error) {
	userID := query.Get("player_id")
	txID := query.Get("transaction_id")
	sig := query.Get("signature")
	if userID == "" || txID == "" || sig == "" {
		return Event{}, ErrMissingParams
	}
	amount, err := strconv.ParseFloat(query.Get("amount"), 64)
	if err != nil || amount <= 0 {
		return Event{}, ErrMissingParams
	}

	mac := hmac.New(sha256.New, []byte(v.cfg.AdGemSecret))
	mac.Write([]byte(canonicalURL(path, query, "signature")))
	if !equalHex(sig, mac.Sum(nil)) {
		return Event{}, ErrBadSignature
	}
	return Event{Network: NetworkAdGem, ExternalTxID: txID, UserID: userID, Amount: types.FromRupees(amount)}, nil
}

// ParseCPX checks an MD5 over "<trans_id>-<secret>". A mismatch is fatal
// here: the upstream implementation logged and credited anyway, which left
// the survey credit path effectively unauthenticated.
// Params: user_id, trans_id, amount_local (rupees), status, hash.
func (v *Verifier) ParseCPX(query url.Values) (Event, error) {
	userID := query.Get("user_id")
	txID := query.Get("trans_id")
	hash := query.Get("hash")
	if userID == "" || txID == "" || hash == "" {
		return Event{}, ErrMissingParams
	}

	sum := md5.Sum([]byte(txID + "-" + v.cfg.CPXSecret))
	if !equalHex(hash, sum[:]) {
		return Event{}, ErrBadSignature
	}

	// status 1 = completed; anything else (screenout, reversal) is
	// acknowledged without credit so the network stops retrying.
	if query.Get("status") != "1" {
		return Event{}, ErrNotQualified
	}
	amount, err := strconv.ParseFloat(query.Get("amount_local"), 64)
	if err != nil || amount <= 0 {
		return Event{}, ErrMissingParams
	}
	return Event{Network: NetworkCPX, ExternalTxID: txID, UserID: userID, Amount: types.FromRupees(amount)}, nil
}

// ParseRapidReach checks an HMAC-SHA256 over "tx_id:user_id:coins".
// Params: tx_id, user_id, coins (integer micro-currency), sig.
func (v *Verifier) ParseRapidReach(query url.Values) (Event, error) {
	userID := query.Get("user_id")
	txID := query.Get("tx_id")
	sig := query.Get("sig")
	coinsParam := query.Get("coins")
	if userID == "" || txID == "" || sig == "" {
		return Event{}, ErrMissingParams
	}
	coins, err := strconv.ParseInt(coinsParam, 10, 64)
	if err != nil || coins <= 0 {
		return Event{}, ErrMissingParams
	}

	mac := hmac.New(sha256.New, []byte(v.cfg.RapidReachSecret))
	mac.Write([]byte(txID + ":" + userID + ":" + coinsParam))
	if !equalHex(sig, mac.Sum(nil)) {
		return Event{}, ErrBadSignature
	}
	return Event{Network: NetworkRapidReach, ExternalTxID: txID, UserID: userID, Amount: types.Coins(coins)}, nil
}

// canonicalURL rebuilds path?query with the given parameter removed and the
// rest sorted, so signing is stable regardless of parameter order.
func canonicalURL(path string, query url.Values, strip string) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		if k == strip {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+query.Get(k))
	}
	return path + "?" + strings.Join(parts, "&")
}

func equalHex(got string, want []byte) bool {
	decoded, err := hex.DecodeString(strings.ToLower(got))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(decoded, want) == 1
}
