package store

import (
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// defaultCacheSize bounds the cache at roughly a few thousand tenants' worth
// of documents.
const defaultCacheSize = 8192

// documentCache is the process-local read-through cache. Entries are
// populated on read-miss and overwritten on every write; there is no TTL.
// Eviction only happens under LRU size pressure or via purge.
type documentCache struct {
	entries *lru.LRU[string, interface{}]
}

func newDocumentCache(size int) *documentCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	// Zero TTL disables time-based expiry; the size bound is the only
	// automatic eviction.
	return &documentCache{
		entries: lru.NewLRU[string, interface{}](size, nil, 0),
	}
}

func (c *documentCache) get(key string) (interface{}, bool) {
	return c.entries.Get(key)
}

func (c *documentCache) put(key string, doc interface{}) {
	c.entries.Add(key, doc)
}

func (c *documentCache) purge() {
	c.entries.Purge()
}

func cacheKeyOrg(orgID string) string {
	return "org/" + orgID
}

func cacheKeyTeam(orgID, teamID string) string {
	return "team/" + orgID + "/" + teamID
}

func cacheKeyAPIKey(orgID, keyID string) string {
	return "key/" + orgID + "/" + keyID
}

func cacheKeyQuota(orgID, teamID string) string {
	if teamID == "" {
		return "quota/" + orgID
	}
	return "quota/" + orgID + "/" + teamID
}
