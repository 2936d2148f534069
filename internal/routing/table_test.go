package routing

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTable(t *testing.T) {
	t.Parallel()

	table := NewTable()
	assert.NotNil(t, table)
	assert.Equal(t, 0, table.Len())
}

func TestTable_Resolve_Exact(t *testing.T) {
	t.Parallel()

	table := NewTable()
	table.Upsert(Route{Merchant: "acme", Channel: "sports", Address: "backend-1:9000", Users: []string{"u1"}})

	route, err := table.Resolve("acme", "sports")
	require.NoError(t, err)
	assert.Equal(t, "backend-1:9000", route.Address)
	assert.Equal(t, []string{"u1"}, route.Users)
}

func TestTable_Resolve_NotFound(t *testing.T) {
	t.Parallel()

	table := NewTable()
	table.Upsert(Route{Merchant: "acme", Channel: "sports", Address: "backend-1:9000"})

	_, err := table.Resolve("acme", "finance")
	assert.ErrorIs(t, err, ErrRouteNotFound)
}

func TestTable_Resolve_Precedence(t *testing.T) {
	t.Parallel()

	// All three forms present at once: exact must always win, and the
	// wildcard-merchant form must beat the wildcard-channel form.
	table := NewTable()
	table.Upsert(Route{Merchant: "acme", Channel: "sports", Address: "exact:1"})
	table.Upsert(Route{Merchant: "", Channel: "sports", Address: "any-merchant:1"})
	table.Upsert(Route{Merchant: "acme", Channel: "", Address: "any-channel:1"})

	route, err := table.Resolve("acme", "sports")
	require.NoError(t, err)
	assert.Equal(t, "exact:1", route.Address)

	route, err = table.Resolve("globex", "sports")
	require.NoError(t, err)
	assert.Equal(t, "any-merchant:1", route.Address)

	route, err = table.Resolve("acme", "finance")
	require.NoError(t, err)
	assert.Equal(t, "any-channel:1", route.Address)

	_, err = table.Resolve("globex", "finance")
	assert.ErrorIs(t, err, ErrRouteNotFound)
}

func TestTable_Upsert_Replaces(t *testing.T) {
	t.Parallel()

	table := NewTable()
	table.Upsert(Route{Merchant: "acme", Channel: "sports", Address: "old:1", Users: []string{"u1"}})
	table.Upsert(Route{Merchant: "acme", Channel: "sports", Address: "new:1", Users: []string{"u2"}})

	route, err := table.Resolve("acme", "sports")
	require.NoError(t, err)
	assert.Equal(t, "new:1", route.Address)
	assert.Equal(t, []string{"u2"}, route.Users)
	assert.Equal(t, 1, table.Len())
}

func TestTable_Remove(t *testing.T) {
	t.Parallel()

	table := NewTable()
	table.Upsert(Route{Merchant: "acme", Channel: "sports", Address: "backend-1:9000"})

	table.Remove("acme", "sports")

	_, err := table.Resolve("acme", "sports")
	assert.ErrorIs(t, err, ErrRouteNotFound)
}

func TestTable_Remove_UnknownIsNoop(t *testing.T) {
	t.Parallel()

	table := NewTable()
	table.Upsert(Route{Merchant: "", Channel: "sports", Address: "wildcard:1"})

	// Deleting a route that was never inserted must not disturb the
	// wildcard entry that still applies.
	table.Remove("acme", "sports")

	route, err := table.Resolve("acme", "sports")
	require.NoError(t, err)
	assert.Equal(t, "wildcard:1", route.Address)
}

func TestTable_Load_ReplacesContents(t *testing.T) {
	t.Parallel()

	table := NewTable()
	table.Upsert(Route{Merchant: "stale", Channel: "sports", Address: "stale:1"})

	table.Load([]Route{
		{Merchant: "acme", Channel: "sports", Address: "a:1"},
		{Merchant: "acme", Channel: "finance", Address: "b:1"},
	})

	assert.Equal(t, 2, table.Len())
	_, err := table.Resolve("stale", "sports")
	assert.ErrorIs(t, err, ErrRouteNotFound)

	route, err := table.Resolve("acme", "finance")
	require.NoError(t, err)
	assert.Equal(t, "b:1", route.Address)
}

func TestTable_ConcurrentResolve(t *testing.T) {
	t.Parallel()

	table := NewTable()
	table.Upsert(Route{Merchant: "acme", Channel: "sports", Address: "addr:0", Users: []string{"u0"}})

	var wg sync.WaitGroup

	// One writer replacing the route, many readers resolving it. Readers
	// must always see a complete route, never a half-updated one.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 100; i++ {
			table.Upsert(Route{
				Merchant: "acme",
				Channel:  "sports",
				Address:  fmt.Sprintf("addr:%d", i),
				Users:    []string{fmt.Sprintf("u%d", i)},
			})
		}
	}()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				route, err := table.Resolve("acme", "sports")
				require.NoError(t, err)
				require.Len(t, route.Users, 1)
				// Address and user set always belong to the same version.
				require.Equal(t, "addr:"+route.Users[0][1:], route.Address)
			}
		}()
	}

	wg.Wait()
}

func TestRoute_HasUser(t *testing.T) {
	t.Parallel()

	route := Route{
		Merchant: "acme",
		Channel:  "sports",
		Address:  "backend-1:9000",
		Users:    []string{"u1", "u2"},
	}

	assert.True(t, route.HasUser("u1"))
	assert.True(t, route.HasUser("u2"))
	assert.False(t, route.HasUser("u3"))
	assert.False(t, route.HasUser(""))
}

func TestRoute_HasUser_EmptySetAuthorizesNoOne(t *testing.T) {
	t.Parallel()

	route := Route{Merchant: "acme", Channel: "sports", Users: []string{}}

	// No implicit access, not even for identities equal to the merchant
	// or channel name.
	assert.False(t, route.HasUser("acme"))
	assert.False(t, route.HasUser("sports"))
	assert.False(t, route.HasUser(""))
}

func TestRoute_Key(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "acme:sports", Route{Merchant: "acme", Channel: "sports"}.Key())
	assert.Equal(t, ":sports", Route{Channel: "sports"}.Key())
	assert.Equal(t, "acme:", Route{Merchant: "acme"}.Key())
}
