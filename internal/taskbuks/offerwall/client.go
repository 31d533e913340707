// Package offerwall fetches live offers and surveys from third-party
// networks. This is the read path only: nothing fetched here is persisted
// or credited, so every failure degrades to an empty list instead of an
// error the end user would see.
package offerwall

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/taskbuks/taskbuks/internal/taskbuks/config"
	"github.com/taskbuks/taskbuks/internal/taskbuks/types"
	"go.uber.org/zap"
)

type Client struct {
	cfg    config.Offerwall
	http   *http.Client
	logger *zap.Logger
}

func NewClient(cfg config.Offerwall, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("offerwall"),
	}
}

func (c *Client) fetch(ctx context.Context, rawURL string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upstream returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Offers returns the live third-party offer list, or an empty slice when
// the upstream is down, slow, or unconfigured.
func (c *Client) Offers(ctx context.Context) []types.Offer {
	if c.cfg.OffersURL == "" {
		return nil
	}
	var payload struct {
		Offers []struct {
			ID       string  `json:"offer_id"`
			Name     string  `json:"name"`
			Teaser   string  `json:"description"`
			Payout   float64 `json:"payout"`
			IconURL  string  `json:"icon_url"`
			Category string  `json:"category"`
			ClickURL string  `json:"click_url"`
		} `json:"data"`
	}
	u := c.cfg.OffersURL + "?app_id=" + url.QueryEscape(c.cfg.AppID)
	if err := c.fetch(ctx, u, &payload); err != nil {
		c.logger.Warn("offer fetch failed, serving internal tasks only", zap.Error(err))
		return nil
	}
	offers := make([]types.Offer, 0, len(payload.Offers))
	for _, o := range payload.Offers {
		offers = append(offers, types.Offer{
			ID:       o.ID,
			Title:    o.Name,
			Subtitle: o.Teaser,
			Reward:   o.Payout,
			IconURL:  o.IconURL,
			Category: o.Category,
			Source:   "offerwall",
			ClickURL: o.ClickURL,
		})
	}
	return offers
}

// Surveys returns the live survey list for one user, empty on any failure.
func (c *Client) Surveys(ctx context.Context, userID string) []types.Survey {
	if c.cfg.SurveysURL == "" {
		return nil
	}
	var payload struct {
		Surveys []struct {
			ID      string  `json:"id"`
			Title   string  `json:"title"`
			Payout  float64 `json:"payout_local"`
			Minutes int     `json:"loi"`
			URL     string  `json:"href"`
		} `json:"surveys"`
	}
	u := c.cfg.SurveysURL + "?app_id=" + url.QueryEscape(c.cfg.AppID) + "&ext_user_id=" + url.QueryEscape(userID)
	if err := c.fetch(ctx, u, &payload); err != nil {
		c.logger.Warn("survey fetch failed", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	surveys := make([]types.Survey, 0, len(payload.Surveys))
	for _, s := range payload.Surveys {
		surveys = append(surveys, types.Survey{
			ID:       s.ID,
			Title:    s.Title,
			Reward:   s.Payout,
			Minutes:  s.Minutes,
			ClickURL: s.URL,
		})
	}
	return surveys
}
