package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"fleet-console-backend/db/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Source fetches a lookup endpoint from the fleet REST backend.
type Source interface {
	GetJSON(ctx context.Context, path string) (json.RawMessage, error)
}

// DefaultPaths are the backend lookup endpoints.
var DefaultPaths = map[models.ReferenceKind]string{
	models.RefCustomers:    "/api/customers",
	models.RefServices:     "/api/services",
	models.RefVehicles:     "/api/vehicles",
	models.RefDrivers:      "/api/drivers",
	models.RefContractors:  "/api/contractors",
	models.RefVehicleTypes: "/api/vehicle-types",
}

type cacheEntry struct {
	data   *models.ReferenceData
	search *SearchIndex
}

// Cache loads the reference lists once per upload session and keeps them
// until the session goes away. There is no refresh.
type Cache struct {
	source Source
	paths  map[models.ReferenceKind]string
	logger *zap.Logger

	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

func NewCache(source Source, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		source:  source,
		paths:   DefaultPaths,
		logger:  logger,
		entries: make(map[string]*cacheEntry),
	}
}

// Load returns the session's reference data, fetching it on first use.
// Concurrent first calls share one fetch.
func (c *Cache) Load(ctx context.Context, sessionID string, principal models.Principal) (*models.ReferenceData, error) {
	if entry := c.entry(sessionID); entry != nil {
		return entry.data, nil
	}

	v, err, _ := c.group.Do(sessionID, func() (interface{}, error) {
		if entry := c.entry(sessionID); entry != nil {
			return entry.data, nil
		}

		data := c.fetch(ctx, principal)
		if err := ctx.Err(); err != nil {
			// Do not pin empty lists for the rest of the session.
			return nil, fmt.Errorf("reference data load cancelled: %w", err)
		}

		entry := &cacheEntry{data: data}
		index, err := NewSearchIndex(data)
		if err != nil {
			c.logger.Warn("Reference search index unavailable, falling back to substring search", zap.String("session_id", sessionID), zap.Error(err))
		} else {
			entry.search = index
		}

		c.mu.Lock()
		c.entries[sessionID] = entry
		c.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.ReferenceData), nil
}

// Cached returns the session's data without fetching.
func (c *Cache) Cached(sessionID string) (*models.ReferenceData, bool) {
	entry := c.entry(sessionID)
	if entry == nil {
		return nil, false
	}
	return entry.data, true
}

// Evict drops the session's data. Wired to session eviction.
func (c *Cache) Evict(sessionID string) {
	c.mu.Lock()
	entry := c.entries[sessionID]
	delete(c.entries, sessionID)
	c.mu.Unlock()

	if entry != nil && entry.search != nil {
		_ = entry.search.Close()
	}
}

func (c *Cache) entry(sessionID string) *cacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[sessionID]
}

// fetch requests every list the principal may see in parallel. A failing
// endpoint leaves its list empty and does not fail the others.
func (c *Cache) fetch(ctx context.Context, principal models.Principal) *models.ReferenceData {
	lists := make([][]models.ReferenceItem, len(models.ReferenceKinds))

	var g errgroup.Group
	for i, kind := range models.ReferenceKinds {
		if !CanView(kind, principal.Role) {
			continue
		}
		i, kind := i, kind
		g.Go(func() error {
			raw, err := c.source.GetJSON(ctx, c.paths[kind])
			if err != nil {
				c.logger.Warn("Reference list fetch failed", zap.String("kind", string(kind)), zap.Error(err))
				return nil
			}
			lists[i] = coerceItems(raw)
			return nil
		})
	}
	_ = g.Wait()

	data := &models.ReferenceData{}
	for i, kind := range models.ReferenceKinds {
		items := lists[i]
		if items == nil {
			items = []models.ReferenceItem{}
		}
		data.Set(kind, items)
	}

	if principal.Role == models.RoleCustomer {
		data.Customers = ownCustomer(data.Customers, principal.CustomerID)
	}
	return data
}

func ownCustomer(customers []models.ReferenceItem, customerID *int) []models.ReferenceItem {
	out := []models.ReferenceItem{}
	if customerID == nil {
		return out
	}
	for _, c := range customers {
		if c.ID == *customerID {
			out = append(out, c)
		}
	}
	return out
}

// coerceItems accepts a bare array or an envelope holding one under "data",
// "results" or "items". Anything else is an empty list.
func coerceItems(raw json.RawMessage) []models.ReferenceItem {
	var records []map[string]interface{}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded interface{}
	if err := dec.Decode(&decoded); err != nil {
		return []models.ReferenceItem{}
	}

	switch v := decoded.(type) {
	case []interface{}:
		records = toRecords(v)
	case map[string]interface{}:
		for _, key := range []string{"data", "results", "items"} {
			if arr, ok := v[key].([]interface{}); ok {
				records = toRecords(arr)
				break
			}
		}
	}

	items := make([]models.ReferenceItem, 0, len(records))
	for _, rec := range records {
		id, ok := toInt(rec["id"])
		if !ok {
			continue
		}
		items = append(items, models.ReferenceItem{ID: id, Name: displayName(rec)})
	}
	return items
}

func toRecords(arr []interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// displayName prefers name, then number (vehicles), then full_name (drivers).
func displayName(rec map[string]interface{}) string {
	for _, key := range []string{"name", "number", "full_name"} {
		switch v := rec[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case json.Number:
		i, err := t.Int64()
		return int(i), err == nil
	case float64:
		return int(t), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		return i, err == nil
	}
	return 0, false
}

// ResolveByName finds the id of the single item of kind named name
// (case-insensitive). Missing and ambiguous names resolve to nothing.
func (c *Cache) ResolveByName(sessionID string, kind models.ReferenceKind, name string) (int, bool) {
	data, ok := c.Cached(sessionID)
	if !ok {
		return 0, false
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, false
	}

	found, matches := 0, 0
	for _, item := range data.List(kind) {
		if strings.EqualFold(item.Name, name) {
			found = item.ID
			matches++
		}
	}
	return found, matches == 1
}

// LabelByID returns the display name of an item.
func (c *Cache) LabelByID(sessionID string, kind models.ReferenceKind, id int) (string, bool) {
	data, ok := c.Cached(sessionID)
	if !ok {
		return "", false
	}
	for _, item := range data.List(kind) {
		if item.ID == id {
			return item.Name, true
		}
	}
	return "", false
}

// Search returns up to limit items of kind whose name matches query.
func (c *Cache) Search(sessionID string, kind models.ReferenceKind, query string, limit int) ([]models.ReferenceItem, error) {
	entry := c.entry(sessionID)
	if entry == nil {
		return nil, ErrNotLoaded
	}
	if limit <= 0 {
		limit = 20
	}
	if strings.TrimSpace(query) == "" {
		items := entry.data.List(kind)
		if len(items) > limit {
			items = items[:limit]
		}
		return items, nil
	}
	if entry.search != nil {
		return entry.search.Search(kind, query, limit)
	}
	return substringSearch(entry.data.List(kind), query, limit), nil
}

func substringSearch(items []models.ReferenceItem, query string, limit int) []models.ReferenceItem {
	q := strings.ToLower(strings.TrimSpace(query))
	out := []models.ReferenceItem{}
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.Name), q) {
			out = append(out, item)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}
