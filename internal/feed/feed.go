package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dbontempi/arbot/internal/domain"
	"github.com/dbontempi/arbot/internal/platform/polymarket"
)

const (
	connectTimeout = 15 * time.Second
	reconnectDelay = 2 * time.Second
)

// PriceFeed keeps cached market prices fresh between snapshot fetches. It
// holds one WebSocket connection to the CLOB market channel, applies every
// ask-side observation to the market cache, and reconnects with a delay when
// the connection drops.
type PriceFeed struct {
	wsURL  string
	cache  domain.MarketCache
	logger *slog.Logger

	mu     sync.Mutex
	assets map[string]struct{}
	client *polymarket.WSClient

	closeOnce sync.Once
	done      chan struct{}
}

// NewPriceFeed creates a feed that writes price updates into cache.
func NewPriceFeed(wsURL string, cache domain.MarketCache, logger *slog.Logger) *PriceFeed {
	return &PriceFeed{
		wsURL:  wsURL,
		cache:  cache,
		logger: logger.With(slog.String("component", "price_feed")),
		assets: make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

// Track adds the outcome tokens of the given markets to the subscription
// set. When new tokens appear while a connection is live, the feed
// resubscribes with the full set; otherwise the next connection picks them
// up.
func (f *PriceFeed) Track(ctx context.Context, markets []domain.Market) {
	f.mu.Lock()
	added := 0
	for _, m := range markets {
		for _, token := range []string{m.YesTokenID, m.NoTokenID} {
			if token == "" {
				continue
			}
			if _, ok := f.assets[token]; !ok {
				f.assets[token] = struct{}{}
				added++
			}
		}
	}
	client := f.client
	assets := f.trackedLocked()
	f.mu.Unlock()

	if added == 0 {
		return
	}
	f.logger.Debug("tracking new assets",
		slog.Int("added", added),
		slog.Int("total", len(assets)),
	)
	if client == nil {
		return
	}
	if err := client.Subscribe(ctx, assets); err != nil {
		f.logger.Warn("price feed resubscribe failed", slog.String("error", err.Error()))
	}
}

// Run connects, subscribes to the tracked assets, and keeps the connection
// alive until ctx is cancelled or Close is called. Reconnects with a delay
// on disconnect.
func (f *PriceFeed) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("price feed disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// Close stops the feed.
func (f *PriceFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// runConnection dials one WebSocket connection and blocks until it dies.
// The timeout covers only the dial; a healthy connection stays up
// indefinitely.
func (f *PriceFeed) runConnection(ctx context.Context) error {
	client := polymarket.NewWSClient(f.wsURL)
	client.OnPriceUpdate(f.onUpdate)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	err := client.Connect(connectCtx)
	cancel()
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.client = client
	assets := f.trackedLocked()
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.client = nil
		f.mu.Unlock()
		client.Close()
	}()

	if err := client.Subscribe(ctx, assets); err != nil {
		return err
	}
	f.logger.Info("price feed subscribed", slog.Int("assets", len(assets)))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return nil
	case <-client.Done():
		return fmt.Errorf("feed: %w", domain.ErrWSDisconnect)
	}
}

func (f *PriceFeed) onUpdate(update polymarket.PriceUpdate) {
	f.applyUpdate(context.Background(), update.TokenID, update.Price)
}

// applyUpdate writes one observed token price onto the cached market. Prices
// outside (0, 1) are impossible for a binary outcome and are dropped.
func (f *PriceFeed) applyUpdate(ctx context.Context, tokenID string, price float64) {
	if price <= 0 || price >= 1 {
		return
	}

	market, err := f.cache.GetByToken(ctx, tokenID)
	if err != nil {
		return // token not tracked by the cache
	}

	switch tokenID {
	case market.YesTokenID:
		market.YesPrice = price
	case market.NoTokenID:
		market.NoPrice = price
	default:
		return
	}

	if err := f.cache.Set(ctx, market); err != nil {
		f.logger.Warn("price feed cache update failed",
			slog.String("market_id", market.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (f *PriceFeed) trackedLocked() []string {
	assets := make([]string, 0, len(f.assets))
	for token := range f.assets {
		assets = append(assets, token)
	}
	sort.Strings(assets)
	return assets
}
