package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/dbontempi/arbot/internal/domain"
)

type fakeMarketCache struct {
	domain.MarketCache

	byToken map[string]domain.Market
	sets    []domain.Market
	setErr  error
}

func newFakeMarketCache(markets ...domain.Market) *fakeMarketCache {
	c := &fakeMarketCache{byToken: make(map[string]domain.Market)}
	for _, m := range markets {
		c.byToken[m.YesTokenID] = m
		c.byToken[m.NoTokenID] = m
	}
	return c
}

func (c *fakeMarketCache) GetByToken(_ context.Context, tokenID string) (domain.Market, error) {
	m, ok := c.byToken[tokenID]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *fakeMarketCache) Set(_ context.Context, market domain.Market) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.sets = append(c.sets, market)
	c.byToken[market.YesTokenID] = market
	c.byToken[market.NoTokenID] = market
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMarket() domain.Market {
	return domain.Market{
		ID:         "m1",
		Title:      "market m1",
		YesPrice:   0.45,
		NoPrice:    0.52,
		YesTokenID: "tok-yes",
		NoTokenID:  "tok-no",
		Active:     true,
	}
}

func TestApplyUpdate(t *testing.T) {
	tests := []struct {
		name    string
		tokenID string
		price   float64
		wantSet bool
		wantYes float64
		wantNo  float64
	}{
		{
			name:    "yes token updates yes price",
			tokenID: "tok-yes",
			price:   0.47,
			wantSet: true,
			wantYes: 0.47,
			wantNo:  0.52,
		},
		{
			name:    "no token updates no price",
			tokenID: "tok-no",
			price:   0.50,
			wantSet: true,
			wantYes: 0.45,
			wantNo:  0.50,
		},
		{
			name:    "unknown token ignored",
			tokenID: "tok-other",
			price:   0.30,
		},
		{
			name:    "zero price dropped",
			tokenID: "tok-yes",
			price:   0,
		},
		{
			name:    "price of one dropped",
			tokenID: "tok-yes",
			price:   1.0,
		},
		{
			name:    "price above one dropped",
			tokenID: "tok-yes",
			price:   1.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newFakeMarketCache(testMarket())
			feed := NewPriceFeed("ws://unused", cache, testLogger())

			feed.applyUpdate(context.Background(), tt.tokenID, tt.price)

			if !tt.wantSet {
				if len(cache.sets) != 0 {
					t.Fatalf("expected no cache write, got %d", len(cache.sets))
				}
				return
			}
			if len(cache.sets) != 1 {
				t.Fatalf("expected 1 cache write, got %d", len(cache.sets))
			}
			got := cache.sets[0]
			if got.ID != "m1" {
				t.Errorf("wrote market %q, want m1", got.ID)
			}
			if got.YesPrice != tt.wantYes {
				t.Errorf("YesPrice = %v, want %v", got.YesPrice, tt.wantYes)
			}
			if got.NoPrice != tt.wantNo {
				t.Errorf("NoPrice = %v, want %v", got.NoPrice, tt.wantNo)
			}
		})
	}
}

func TestApplyUpdateCacheWriteFailure(t *testing.T) {
	cache := newFakeMarketCache(testMarket())
	cache.setErr = errors.New("redis down")
	feed := NewPriceFeed("ws://unused", cache, testLogger())

	// Must not panic; the next snapshot fetch repairs the cache.
	feed.applyUpdate(context.Background(), "tok-yes", 0.47)

	if len(cache.sets) != 0 {
		t.Fatalf("expected no recorded write, got %d", len(cache.sets))
	}
}

func TestTrackCollectsOutcomeTokens(t *testing.T) {
	feed := NewPriceFeed("ws://unused", newFakeMarketCache(), testLogger())

	markets := []domain.Market{
		{ID: "m1", YesTokenID: "b-yes", NoTokenID: "a-no"},
		{ID: "m2", YesTokenID: "c-yes", NoTokenID: ""},
	}
	feed.Track(context.Background(), markets)

	want := []string{"a-no", "b-yes", "c-yes"}
	if got := feed.trackedLocked(); !reflect.DeepEqual(got, want) {
		t.Fatalf("tracked = %v, want %v", got, want)
	}

	// Tracking the same markets again must not grow the set.
	feed.Track(context.Background(), markets)
	if got := feed.trackedLocked(); !reflect.DeepEqual(got, want) {
		t.Fatalf("tracked after repeat = %v, want %v", got, want)
	}

	feed.Track(context.Background(), []domain.Market{
		{ID: "m3", YesTokenID: "d-yes", NoTokenID: "d-no"},
	})
	want = []string{"a-no", "b-yes", "c-yes", "d-no", "d-yes"}
	if got := feed.trackedLocked(); !reflect.DeepEqual(got, want) {
		t.Fatalf("tracked after new market = %v, want %v", got, want)
	}
}
