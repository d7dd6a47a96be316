package analyzer

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

// walletCache is a TTL cache of analyzed wallet profiles with a soft size
// cap. When an insert would exceed the cap it first purges expired entries,
// then evicts roughly half of the remainder so the cache does not thrash at
// the boundary.
type walletCache struct {
	c       *gocache.Cache
	maxSize int
}

func newWalletCache(ttl time.Duration, maxSize int) *walletCache {
	return &walletCache{
		c:       gocache.New(ttl, 2*ttl),
		maxSize: maxSize,
	}
}

var _ domain.WalletCache = (*walletCache)(nil)

func (w *walletCache) Get(address string) (domain.WalletProfile, bool) {
	v, ok := w.c.Get(address)
	if !ok {
		return domain.WalletProfile{}, false
	}
	return v.(domain.WalletProfile), true
}

func (w *walletCache) Set(address string, profile domain.WalletProfile) {
	if w.c.ItemCount() >= w.maxSize {
		w.c.DeleteExpired()
	}
	if w.c.ItemCount() >= w.maxSize {
		w.evictHalf()
	}
	w.c.SetDefault(address, profile)
}

func (w *walletCache) Len() int {
	return w.c.ItemCount()
}

// evictHalf removes about half of the cached entries. Iteration order over
// the underlying map is random, which serves well enough as an eviction
// policy for a cache of short-lived profiles.
func (w *walletCache) evictHalf() {
	target := w.c.ItemCount() / 2
	removed := 0
	for key := range w.c.Items() {
		if removed >= target {
			break
		}
		w.c.Delete(key)
		removed++
	}
}
