package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fleet-console-backend/db/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu       sync.Mutex
	bodies   map[string]string
	failing  map[string]bool
	requests map[string]int
	delay    time.Duration
	total    atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		bodies: map[string]string{
			"/api/customers":     `[{"id": 1, "name": "Acme"}, {"id": 2, "name": "Globex"}, {"id": 3, "name": "acme"}]`,
			"/api/services":      `{"data": [{"id": 10, "name": "Airport Transfer"}, {"id": 11, "name": "City Shuttle"}]}`,
			"/api/vehicles":      `{"results": [{"id": "30", "number": "ABC 123"}]}`,
			"/api/drivers":       `{"items": [{"id": 40, "full_name": "Jane Doe"}]}`,
			"/api/contractors":   `{"unexpected": true}`,
			"/api/vehicle-types": `[{"id": 50, "name": " Sedan "}, {"name": "no id"}]`,
		},
		failing:  map[string]bool{},
		requests: map[string]int{},
	}
}

func (f *fakeSource) GetJSON(ctx context.Context, path string) (json.RawMessage, error) {
	f.total.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[path]++
	if f.failing[path] {
		return nil, errors.New("backend unavailable")
	}
	return json.RawMessage(f.bodies[path]), nil
}

var staff = models.Principal{Email: "ops@example.com", Role: models.RoleStaff}

func TestLoadCoercesResponseShapes(t *testing.T) {
	c := NewCache(newFakeSource(), nil)

	data, err := c.Load(context.Background(), "s1", staff)
	require.NoError(t, err)

	assert.Len(t, data.Customers, 3)
	assert.Equal(t, []models.ReferenceItem{{ID: 10, Name: "Airport Transfer"}, {ID: 11, Name: "City Shuttle"}}, data.Services)
	assert.Equal(t, []models.ReferenceItem{{ID: 30, Name: "ABC 123"}}, data.Vehicles)
	assert.Equal(t, []models.ReferenceItem{{ID: 40, Name: "Jane Doe"}}, data.Drivers)
	assert.NotNil(t, data.Contractors)
	assert.Empty(t, data.Contractors)
	assert.Equal(t, []models.ReferenceItem{{ID: 50, Name: "Sedan"}}, data.VehicleTypes)
}

func TestLoadIsolatesFailures(t *testing.T) {
	src := newFakeSource()
	src.failing["/api/services"] = true
	c := NewCache(src, nil)

	data, err := c.Load(context.Background(), "s1", staff)
	require.NoError(t, err)

	assert.Empty(t, data.Services)
	assert.Len(t, data.Customers, 3)
	assert.Len(t, data.Drivers, 1)
}

func TestLoadOncePerSession(t *testing.T) {
	src := newFakeSource()
	src.delay = 20 * time.Millisecond
	c := NewCache(src, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Load(context.Background(), "s1", staff)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	_, err := c.Load(context.Background(), "s1", staff)
	require.NoError(t, err)

	assert.Equal(t, int32(len(models.ReferenceKinds)), src.total.Load())

	c.Evict("s1")
	_, ok := c.Cached("s1")
	assert.False(t, ok)

	_, err = c.Load(context.Background(), "s1", staff)
	require.NoError(t, err)
	assert.Equal(t, int32(2*len(models.ReferenceKinds)), src.total.Load())
}

func TestLoadForCustomerRole(t *testing.T) {
	src := newFakeSource()
	c := NewCache(src, nil)
	customer := models.Principal{Email: "client@example.com", Role: models.RoleCustomer, CustomerID: intPtr(2)}

	data, err := c.Load(context.Background(), "s1", customer)
	require.NoError(t, err)

	assert.Equal(t, []models.ReferenceItem{{ID: 2, Name: "Globex"}}, data.Customers)
	assert.Empty(t, data.Vehicles)
	assert.Empty(t, data.Drivers)
	assert.Zero(t, src.requests["/api/vehicles"])
	assert.Zero(t, src.requests["/api/drivers"])
}

func TestLoadCancelledIsNotCached(t *testing.T) {
	c := NewCache(newFakeSource(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Load(ctx, "s1", staff)
	assert.ErrorIs(t, err, context.Canceled)
	_, ok := c.Cached("s1")
	assert.False(t, ok)
}

func TestResolveByName(t *testing.T) {
	c := NewCache(newFakeSource(), nil)

	_, ok := c.ResolveByName("s1", models.RefServices, "City Shuttle")
	assert.False(t, ok, "nothing loaded yet")

	_, err := c.Load(context.Background(), "s1", staff)
	require.NoError(t, err)

	id, ok := c.ResolveByName("s1", models.RefServices, " city shuttle ")
	assert.True(t, ok)
	assert.Equal(t, 11, id)

	// "Acme" and "acme" are both customers.
	_, ok = c.ResolveByName("s1", models.RefCustomers, "ACME")
	assert.False(t, ok)

	_, ok = c.ResolveByName("s1", models.RefCustomers, "Initech")
	assert.False(t, ok)

	label, ok := c.LabelByID("s1", models.RefDrivers, 40)
	assert.True(t, ok)
	assert.Equal(t, "Jane Doe", label)
}

func TestSearch(t *testing.T) {
	c := NewCache(newFakeSource(), nil)

	_, err := c.Search("s1", models.RefServices, "air", 10)
	assert.ErrorIs(t, err, ErrNotLoaded)

	_, err = c.Load(context.Background(), "s1", staff)
	require.NoError(t, err)

	items, err := c.Search("s1", models.RefServices, "air", 10)
	require.NoError(t, err)
	assert.Equal(t, []models.ReferenceItem{{ID: 10, Name: "Airport Transfer"}}, items)

	items, err = c.Search("s1", models.RefServices, "shuttle", 10)
	require.NoError(t, err)
	assert.Equal(t, []models.ReferenceItem{{ID: 11, Name: "City Shuttle"}}, items)

	// Kinds do not leak into each other.
	items, err = c.Search("s1", models.RefCustomers, "shuttle", 10)
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = c.Search("s1", models.RefCustomers, "", 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestSubstringSearch(t *testing.T) {
	items := []models.ReferenceItem{{ID: 1, Name: "Airport Transfer"}, {ID: 2, Name: "Port Shuttle"}, {ID: 3, Name: "City"}}
	assert.Equal(t, []int{1, 2}, ids(substringSearch(items, "PORT", 5)))
	assert.Equal(t, []int{1}, ids(substringSearch(items, "port", 1)))
}

func ids(items []models.ReferenceItem) []int {
	out := []int{}
	for _, item := range items {
		out = append(out, item.ID)
	}
	return out
}

func intPtr(v int) *int { return &v }
