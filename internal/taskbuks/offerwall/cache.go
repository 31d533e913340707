package offerwall

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/taskbuks/taskbuks/internal/taskbuks/types"
	"go.uber.org/zap"
)

// Cache keeps the last good offer list in process so the listing endpoint
// never waits on the upstream. It is an owned instance injected where it
// is needed, not a package global.
type Cache struct {
	mu     sync.RWMutex
	offers []types.Offer

	client *Client
	sched  gocron.Scheduler
	logger *zap.Logger
}

func NewCache(client *Client, logger *zap.Logger) *Cache {
	return &Cache{client: client, logger: logger.Named("offerwall-cache")}
}

// Start fills the cache once, then refreshes on the configured interval.
func (c *Cache) Start(interval time.Duration) error {
	c.refresh()

	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(c.refresh),
	)
	if err != nil {
		return err
	}
	sched.Start()
	c.sched = sched
	return nil
}

func (c *Cache) Stop() error {
	if c.sched == nil {
		return nil
	}
	return c.sched.Shutdown()
}

// refresh keeps the previous list when the upstream fails; an empty fetch
// result after an error would make offers flap on every outage.
func (c *Cache) refresh() {
	offers := c.client.Offers(context.Background())
	if offers == nil {
		return
	}
	c.mu.Lock()
	c.offers = offers
	c.mu.Unlock()
	c.logger.Info("offer cache refreshed", zap.Int("offers", len(offers)))
}

func (c *Cache) Offers() []types.Offer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Offer, len(c.offers))
	copy(out, c.offers)
	return out
}
