package database

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltyorg/cookieshop/internal/kvstore"
)

// forEachBackend runs fn against a fresh Manager for every backend
func forEachBackend(t *testing.T, fn func(t *testing.T, m *Manager)) {
	t.Helper()

	t.Run("sqlite", func(t *testing.T) {
		m, err := Open(Config{Kind: KindSQLite, DataDir: t.TempDir()})
		require.NoError(t, err)
		t.Cleanup(func() { m.Close() })
		fn(t, m)
	})

	t.Run("kv", func(t *testing.T) {
		m, err := Open(Config{Kind: KindKV, KV: kvstore.NewMemoryStore()})
		require.NoError(t, err)
		t.Cleanup(func() { m.Close() })
		fn(t, m)
	})
}

func insertUser(t *testing.T, ex Executor, id, email string) {
	t.Helper()
	_, err := ex.Run(context.Background(), InsertRow(TableUsers,
		Set("id", id),
		Set("name", "User "+id),
		Set("email", email),
		Set("password", "secret"),
		Set("createdAt", "2024-01-01T00:00:00.000Z"),
	))
	require.NoError(t, err)
}

func insertCart(t *testing.T, ex Executor, id, userID, productID string, qty int) {
	t.Helper()
	_, err := ex.Run(context.Background(), InsertRow(TableCartItems,
		Set("id", id),
		Set("userId", userID),
		Set("productId", productID),
		Set("quantity", qty),
		Set("addedAt", "2024-01-01T00:00:0"+id[len(id)-1:]+".000Z"),
	))
	require.NoError(t, err)
}

func TestManager_InsertAndQuery(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()

		res, err := m.Run(ctx, InsertRow(TableUsers,
			Set("id", "USER_1"),
			Set("name", "Jane"),
			Set("email", "jane@x.com"),
			Set("password", "pw"),
			Set("phone", nil),
			Set("createdAt", "2024-01-01T00:00:00.000Z"),
		))
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Changes)
		assert.Equal(t, "USER_1", res.LastID)

		rows, err := m.Query(ctx, From(TableUsers, EqFold("email", "  JANE@X.COM ")))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "Jane", rows[0].String("name"))
		assert.Nil(t, rows[0]["phone"])
		assert.Nil(t, rows[0].NullString("address"))

		rows, err = m.Query(ctx, From(TableUsers, Eq("email", "JANE@X.COM")))
		require.NoError(t, err)
		assert.Empty(t, rows)

		rows, err = m.Query(ctx, Select{Table: TableUsers, Columns: []string{"id"}})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, Row{"id": "USER_1"}, rows[0])
	})
}

func TestManager_OrderAndLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		insertUser(t, m, "U1", "a@x.com")
		insertCart(t, m, "C1", "U1", "P1", 1)
		insertCart(t, m, "C3", "U1", "P3", 3)
		insertCart(t, m, "C2", "U1", "P2", 2)

		rows, err := m.Query(ctx, Select{
			Table:   TableCartItems,
			Where:   []Cond{Eq("userId", "U1")},
			OrderBy: []Order{Desc("addedAt")},
		})
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "C3", rows[0].String("id"))
		assert.Equal(t, "C2", rows[1].String("id"))
		assert.Equal(t, "C1", rows[2].String("id"))
		assert.Equal(t, int64(3), rows[0].Int64("quantity"))

		rows, err = m.Query(ctx, Select{Table: TableCartItems, OrderBy: []Order{Asc("quantity")}, Limit: 2})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "C1", rows[0].String("id"))
	})
}

func TestManager_UpdateAndDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		insertUser(t, m, "U1", "a@x.com")
		insertCart(t, m, "C1", "U1", "P1", 1)
		insertCart(t, m, "C2", "U1", "P2", 2)

		res, err := m.Run(ctx, Update{
			Table: TableCartItems,
			Set:   []Assignment{Set("quantity", 7)},
			Where: []Cond{Eq("id", "C1")},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Changes)

		res, err = m.Run(ctx, Update{
			Table: TableCartItems,
			Set:   []Assignment{Set("quantity", 7)},
			Where: []Cond{Eq("id", "missing")},
		})
		require.NoError(t, err)
		assert.Zero(t, res.Changes)

		rows, err := m.Query(ctx, From(TableCartItems, Eq("id", "C1")))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(7), rows[0].Int64("quantity"))

		res, err = m.Run(ctx, Delete{Table: TableCartItems, Where: []Cond{Eq("userId", "U1"), Eq("productId", "P2")}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Changes)

		res, err = m.Run(ctx, Delete{Table: TableCartItems})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Changes)

		rows, err = m.Query(ctx, From(TableCartItems))
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestManager_Upsert(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		insertUser(t, m, "U1", "a@x.com")

		add := func(id string, qty int) Result {
			res, err := m.Run(ctx, Upsert{
				Insert: InsertRow(TableCartItems,
					Set("id", id),
					Set("userId", "U1"),
					Set("productId", "P1"),
					Set("quantity", qty),
					Set("addedAt", "2024-01-01T00:00:00.000Z"),
				),
				ConflictColumns: []string{"userId", "productId"},
				Increment:       []string{"quantity"},
			})
			require.NoError(t, err)
			return res
		}

		assert.Equal(t, int64(1), add("C1", 2).Changes)
		assert.Equal(t, int64(1), add("C2", 3).Changes)

		rows, err := m.Query(ctx, From(TableCartItems, Eq("userId", "U1")))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "C1", rows[0].String("id"))
		assert.Equal(t, int64(5), rows[0].Int64("quantity"))

		res, err := m.Run(ctx, Upsert{
			Insert: InsertRow(TableFavorites,
				Set("id", "F1"), Set("userId", "U1"), Set("productId", "P1"), Set("addedAt", "t"),
			),
			ConflictColumns: []string{"userId", "productId"},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Changes)

		res, err = m.Run(ctx, Upsert{
			Insert: InsertRow(TableFavorites,
				Set("id", "F2"), Set("userId", "U1"), Set("productId", "P1"), Set("addedAt", "t"),
			),
			ConflictColumns: []string{"userId", "productId"},
		})
		require.NoError(t, err)
		assert.Zero(t, res.Changes)
	})
}

func TestManager_Constraints(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		insertUser(t, m, "U1", "jane@x.com")

		tests := []struct {
			name string
			stmt Mutation
		}{
			{
				name: "duplicate primary key",
				stmt: InsertRow(TableUsers, Set("id", "U1"), Set("name", "n"), Set("email", "other@x.com"), Set("password", "p"), Set("createdAt", "t")),
			},
			{
				name: "duplicate email ignoring case",
				stmt: InsertRow(TableUsers, Set("id", "U2"), Set("name", "n"), Set("email", "JANE@X.COM"), Set("password", "p"), Set("createdAt", "t")),
			},
			{
				name: "missing not null column",
				stmt: InsertRow(TableUsers, Set("id", "U3"), Set("name", "n"), Set("email", "u3@x.com"), Set("createdAt", "t")),
			},
			{
				name: "quantity check",
				stmt: InsertRow(TableCartItems, Set("id", "C1"), Set("userId", "U1"), Set("productId", "P1"), Set("quantity", 0), Set("addedAt", "t")),
			},
			{
				name: "unknown parent",
				stmt: InsertRow(TableCartItems, Set("id", "C1"), Set("userId", "nobody"), Set("productId", "P1"), Set("quantity", 1), Set("addedAt", "t")),
			},
			{
				name: "status check",
				stmt: InsertRow(TableOrders,
					Set("id", "O1"), Set("userId", "U1"), Set("date", "t"),
					Set("subtotal", 1.0), Set("tax", 0.0), Set("shipping", 0.0), Set("total", 1.0),
					Set("status", "Delivered"), Set("shippingAddress", "{}"), Set("paymentMethod", "card"),
				),
			},
			{
				name: "negative total",
				stmt: InsertRow(TableOrders,
					Set("id", "O1"), Set("userId", "U1"), Set("date", "t"),
					Set("subtotal", 1.0), Set("tax", 0.0), Set("shipping", 0.0), Set("total", -1.0),
					Set("status", "pending"), Set("shippingAddress", "{}"), Set("paymentMethod", "card"),
				),
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := m.Run(ctx, tt.stmt)
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrConstraint)
				assert.True(t, strings.HasPrefix(err.Error(), "run failed: "), err.Error())

				var dbErr *Error
				require.ErrorAs(t, err, &dbErr)
				assert.Equal(t, OpRun, dbErr.Op)
			})
		}

		rows, err := m.Query(ctx, From(TableUsers))
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})
}

func TestManager_RejectsUnknownNames(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()

		_, err := m.Query(ctx, From("products"))
		assert.ErrorIs(t, err, ErrUnknownTable)
		assert.True(t, strings.HasPrefix(err.Error(), "query failed: "))

		_, err = m.Query(ctx, From(TableUsers, Eq("username", "x")))
		assert.ErrorIs(t, err, ErrUnknownColumn)

		_, err = m.Run(ctx, Update{Table: TableUsers, Where: []Cond{Eq("id", "x")}})
		assert.ErrorIs(t, err, ErrUnsupportedStatement)

		_, err = m.Run(ctx, Insert{Table: TableUsers, Columns: []string{"id", "name"}, Values: []any{"x"}})
		assert.ErrorIs(t, err, ErrUnsupportedStatement)
	})
}

func TestManager_CascadeDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		insertUser(t, m, "U1", "a@x.com")
		insertUser(t, m, "U2", "b@x.com")
		insertCart(t, m, "C1", "U1", "P1", 1)
		insertCart(t, m, "C2", "U2", "P1", 1)

		_, err := m.Run(ctx, InsertRow(TableOrders,
			Set("id", "O1"), Set("userId", "U1"), Set("date", "2024-01-01T00:00:00.000Z"),
			Set("subtotal", 10.0), Set("tax", 1.2), Set("shipping", 50.0), Set("total", 61.2),
			Set("status", "pending"), Set("shippingAddress", "{}"), Set("paymentMethod", "card"),
		))
		require.NoError(t, err)
		_, err = m.Run(ctx, InsertRow(TableOrderItems,
			Set("id", "OI1"), Set("orderId", "O1"), Set("productId", "P1"), Set("name", "Cookie"),
			Set("price", 10.0), Set("quantity", 1), Set("image", "cookie.png"),
		))
		require.NoError(t, err)

		res, err := m.Run(ctx, Delete{Table: TableUsers, Where: []Cond{Eq("id", "U1")}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Changes)

		for table, want := range map[string]int{
			TableCartItems:  1,
			TableOrders:     0,
			TableOrderItems: 0,
		} {
			rows, err := m.Query(ctx, From(table))
			require.NoError(t, err)
			assert.Len(t, rows, want, table)
		}
	})
}

func TestManager_Transaction(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		insertUser(t, m, "U1", "a@x.com")

		var changes []Change
		m.OnChange(func(c Change) { changes = append(changes, c) })

		boom := errors.New("boom")
		err := m.Transaction(ctx, func(ex Executor) error {
			insertCart(t, ex, "C1", "U1", "P1", 1)
			rows, err := ex.Query(ctx, From(TableCartItems))
			require.NoError(t, err)
			assert.Len(t, rows, 1)
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.True(t, strings.HasPrefix(err.Error(), "transaction failed: "))
		assert.Empty(t, changes)

		rows, err := m.Query(ctx, From(TableCartItems))
		require.NoError(t, err)
		assert.Empty(t, rows)

		assert.Panics(t, func() {
			_ = m.Transaction(ctx, func(ex Executor) error {
				insertCart(t, ex, "C1", "U1", "P1", 1)
				panic("kaboom")
			})
		})
		rows, err = m.Query(ctx, From(TableCartItems))
		require.NoError(t, err)
		assert.Empty(t, rows)

		err = m.Transaction(ctx, func(ex Executor) error {
			insertCart(t, ex, "C1", "U1", "P1", 1)
			insertCart(t, ex, "C2", "U1", "P2", 1)
			return nil
		})
		require.NoError(t, err)

		rows, err = m.Query(ctx, From(TableCartItems))
		require.NoError(t, err)
		assert.Len(t, rows, 2)
		assert.Equal(t, []Change{
			{Table: TableCartItems, Kind: ChangeInsert, Count: 1},
			{Table: TableCartItems, Kind: ChangeInsert, Count: 1},
		}, changes)
	})
}

func TestManager_RawSQL(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()

		res, err := m.RunSQL(ctx,
			"INSERT INTO users (id, name, email, password, createdAt) VALUES (?, ?, ?, ?, ?)",
			"U1", "Jane", "jane@x.com", "pw", "2024-01-01T00:00:00.000Z")
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Changes)

		rows, err := m.QuerySQL(ctx, "SELECT * FROM users WHERE LOWER(email) = LOWER(?) AND password = ?", "Jane@X.com", "pw")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "U1", rows[0].String("id"))

		res, err = m.RunSQL(ctx, "UPDATE users SET name = ? WHERE id = ?", "Janet", "U1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Changes)

		rows, err = m.QuerySQL(ctx, "SELECT name FROM users WHERE id = 'U1'")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "Janet", rows[0].String("name"))

		res, err = m.RunSQL(ctx, "DELETE FROM users WHERE id = ?", "U1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Changes)
	})
}

func TestManager_RawSQLQuotedKeywords(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()

		for _, u := range [][]string{
			{"U1", "Tom and Jerry", "tj@x.com"},
			{"U2", "Salt or Pepper", "sp@x.com"},
			{"U3", "Tom", "tom@x.com"},
		} {
			_, err := m.RunSQL(ctx,
				"INSERT INTO users (id, name, email, password, createdAt) VALUES (?, ?, ?, 'pw', '2024-01-01T00:00:00.000Z')",
				u[0], u[1], u[2])
			require.NoError(t, err)
		}

		rows, err := m.QuerySQL(ctx, "SELECT id FROM users WHERE name = 'Tom and Jerry'")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "U1", rows[0].String("id"))

		rows, err = m.QuerySQL(ctx, "SELECT id FROM users WHERE name = 'Salt or Pepper' AND email = ?", "sp@x.com")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "U2", rows[0].String("id"))

		res, err := m.RunSQL(ctx, "UPDATE users SET password = ? WHERE name = 'Tom and Jerry' AND id = 'U1'", "new")
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Changes)
	})
}

func TestManager_Execute(t *testing.T) {
	t.Run("sqlite runs scripts", func(t *testing.T) {
		m, err := Open(Config{Kind: KindSQLite, DataDir: t.TempDir()})
		require.NoError(t, err)
		defer m.Close()

		ctx := context.Background()
		insertUser(t, m, "U1", "a@x.com")
		insertCart(t, m, "C1", "U1", "P1", 1)

		res, err := m.Execute(ctx, "-- wipe\nDELETE FROM cart_items;\nDELETE FROM users;")
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.Changes)

		_, err = m.Execute(ctx, "NOT SQL;")
		assert.True(t, strings.HasPrefix(err.Error(), "execute failed: "))
	})

	t.Run("kv ignores scripts", func(t *testing.T) {
		m, err := Open(Config{Kind: KindKV, KV: kvstore.NewMemoryStore()})
		require.NoError(t, err)
		defer m.Close()

		ctx := context.Background()
		insertUser(t, m, "U1", "a@x.com")

		res, err := m.Execute(ctx, "DELETE FROM users;")
		require.NoError(t, err)
		assert.Zero(t, res.Changes)

		rows, err := m.Query(ctx, From(TableUsers))
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})
}

func TestKV_UnsupportedSQLFailsLoudly(t *testing.T) {
	m, err := Open(Config{Kind: KindKV, KV: kvstore.NewMemoryStore()})
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	for _, q := range []string{
		"SELECT SUM(quantity) as total FROM cart_items WHERE userId = ?",
		"SELECT * FROM cart_items WHERE userId = ? OR productId = ?",
		"SELECT * FROM orders o JOIN order_items oi ON o.id = oi.orderId WHERE o.id = ?",
		"SELECT * FROM users WHERE name LIKE ?",
	} {
		args := []any{"a"}
		if strings.Contains(q, " OR ") {
			args = append(args, "b")
		}
		_, err := m.QuerySQL(ctx, q, args...)
		assert.ErrorIs(t, err, ErrUnsupportedStatement, q)
		assert.True(t, strings.HasPrefix(err.Error(), "query failed: "), q)
	}
}

func TestKV_Buckets(t *testing.T) {
	store := kvstore.NewMemoryStore()
	m, err := Open(Config{Kind: KindKV, KV: store})
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	for _, table := range Tables() {
		v, ok, err := store.Get(table.Bucket)
		require.NoError(t, err)
		require.True(t, ok, table.Bucket)
		assert.Equal(t, "[]", v)
	}

	insertUser(t, m, "U1", "a@x.com")
	v, _, err := store.Get("cookie_app_users")
	require.NoError(t, err)
	assert.Contains(t, v, `"email":"a@x.com"`)

	// Existing buckets are left alone on a second initialization
	require.NoError(t, m.Close())
	require.NoError(t, m.Initialize(ctx))
	rows, err := m.Query(ctx, From(TableUsers))
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestKV_OptimizeDropsOrphans(t *testing.T) {
	store := kvstore.NewMemoryStore()
	m, err := Open(Config{Kind: KindKV, KV: store})
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	insertUser(t, m, "U1", "a@x.com")
	insertCart(t, m, "C1", "U1", "P1", 1)

	// Another writer removes the user without cascading
	require.NoError(t, store.Set("cookie_app_users", "[]"))

	require.NoError(t, m.Optimize(ctx))
	rows, err := m.Query(ctx, From(TableCartItems))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestKV_WatchExternal(t *testing.T) {
	dir := t.TempDir()
	fs, err := kvstore.OpenFileStore(dir)
	require.NoError(t, err)

	m, err := Open(Config{Kind: KindKV, KV: fs})
	require.NoError(t, err)
	defer m.Close()
	require.NoError(t, m.Initialize(context.Background()))

	var external atomic.Int32
	m.OnChange(func(c Change) {
		if c.Kind == ChangeExternal && c.Table == TableFavorites {
			external.Add(1)
		}
	})
	require.NoError(t, m.WatchExternal())

	other, err := kvstore.OpenFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, other.Set("cookie_app_favorites", `[{"id":"F1"}]`))

	require.Eventually(t, func() bool { return external.Load() > 0 }, 2*time.Second, 20*time.Millisecond)
}

func TestSQLite_ReusesConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()

	first := NewSQLiteBackend(path)
	require.NoError(t, first.Open(ctx))
	second := NewSQLiteBackend(path)
	require.NoError(t, second.Open(ctx))

	assert.Same(t, first.db, second.db)
	require.NoError(t, first.Close())

	// the second holder keeps a working handle after the first closes
	require.NoError(t, second.db.PingContext(ctx))
	_, err := second.RunSQL(ctx,
		"INSERT INTO users (id, name, email, password, createdAt) VALUES (?, ?, ?, ?, ?)",
		[]any{"U1", "Jane", "jane@x.com", "secret", "2024-01-01T00:00:00.000Z"})
	require.NoError(t, err)
	require.NoError(t, second.Close())

	third := NewSQLiteBackend(path)
	require.NoError(t, third.Open(ctx))
	defer third.Close()
	assert.NotSame(t, first.db, third.db)
}

func TestSQLite_OptimizeKeepsData(t *testing.T) {
	m, err := Open(Config{Kind: KindSQLite, DataDir: t.TempDir()})
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	insertUser(t, m, "U1", "a@x.com")
	insertUser(t, m, "U2", "b@x.com")
	_, err = m.Run(ctx, Delete{Table: TableUsers, Where: []Cond{Eq("id", "U2")}})
	require.NoError(t, err)

	require.NoError(t, m.Optimize(ctx))
	rows, err := m.Query(ctx, From(TableUsers))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "U1", rows[0].String("id"))
}

type flakyBackend struct {
	Backend
	opens atomic.Int32
	fail  atomic.Bool
}

func (b *flakyBackend) Open(ctx context.Context) error {
	b.opens.Add(1)
	time.Sleep(20 * time.Millisecond)
	if b.fail.Load() {
		return errors.New("disk unavailable")
	}
	return b.Backend.Open(ctx)
}

func TestManager_InitializeOnce(t *testing.T) {
	backend := &flakyBackend{Backend: NewKVBackend(kvstore.NewMemoryStore())}
	m := New(backend)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Initialize(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), backend.opens.Load())
	assert.True(t, m.Ready())
	assert.Equal(t, KindKV, m.Backend())
}

func TestManager_InitializeRetriesAfterFailure(t *testing.T) {
	backend := &flakyBackend{Backend: NewKVBackend(kvstore.NewMemoryStore())}
	backend.fail.Store(true)
	m := New(backend)
	ctx := context.Background()

	_, err := m.Query(ctx, From(TableUsers))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "initialize failed: "))
	assert.False(t, m.Ready())

	backend.fail.Store(false)
	rows, err := m.Query(ctx, From(TableUsers))
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, int32(2), backend.opens.Load())
}

func TestKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"", KindAuto},
		{"auto", KindAuto},
		{"SQLite", KindSQLite},
		{"native", KindSQLite},
		{"kv", KindKV},
		{"web", KindKV},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseKind("postgres")
	assert.Error(t, err)

	assert.Equal(t, KindKV, KindKV.Resolve())
	assert.Equal(t, KindSQLite, KindAuto.Resolve(), "tests run on a platform with a relational engine")
}
