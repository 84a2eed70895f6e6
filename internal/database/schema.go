package database

import (
	"fmt"
	"strings"
)

// Table names
const (
	TableUsers      = "users"
	TableCartItems  = "cart_items"
	TableFavorites  = "favorites"
	TableOrders     = "orders"
	TableOrderItems = "order_items"
)

// Order status values accepted by the orders.status CHECK constraint
var OrderStatuses = []string{"pending", "processing", "shipped", "delivered", "cancelled"}

// ColumnType is the storage class of a column
type ColumnType int

const (
	TypeText ColumnType = iota
	TypeInteger
	TypeReal
)

func (t ColumnType) sql() string {
	switch t {
	case TypeInteger:
		return "INTEGER"
	case TypeReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

// Column describes one table column. Check holds the SQL CHECK expression and
// valid its Go equivalent for backends without a SQL engine.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
	Check    string
	valid    func(v any) bool
}

// ForeignKey references another table's primary key with ON DELETE CASCADE.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// Index is a secondary index. Expr, when set, replaces the column list.
type Index struct {
	Name    string
	Columns []string
	Expr    string
	Unique  bool
}

// Table describes a table and the key/value bucket that stands in for it.
type Table struct {
	Name        string
	Bucket      string
	PrimaryKey  string
	Columns     []Column
	Unique      [][]string
	FoldUnique  []string
	ForeignKeys []ForeignKey
	Indexes     []Index
}

// Column returns the named column
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the column names in declaration order
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

func positive(v any) bool {
	n, ok := toFloat(v)
	return ok && n > 0
}

func nonNegative(v any) bool {
	n, ok := toFloat(v)
	return ok && n >= 0
}

func oneOf(values ...string) func(any) bool {
	return func(v any) bool {
		s, ok := v.(string)
		if !ok {
			return false
		}
		for _, allowed := range values {
			if s == allowed {
				return true
			}
		}
		return false
	}
}

func statusCheck() string {
	quoted := make([]string, len(OrderStatuses))
	for i, s := range OrderStatuses {
		quoted[i] = "'" + s + "'"
	}
	return "status IN (" + strings.Join(quoted, ", ") + ")"
}

var schema = []*Table{
	{
		Name:       TableUsers,
		Bucket:     "cookie_app_users",
		PrimaryKey: "id",
		Columns: []Column{
			{Name: "id", Type: TypeText},
			{Name: "name", Type: TypeText},
			{Name: "email", Type: TypeText},
			{Name: "password", Type: TypeText},
			{Name: "profileImage", Type: TypeText, Nullable: true},
			{Name: "phone", Type: TypeText, Nullable: true},
			{Name: "address", Type: TypeText, Nullable: true},
			{Name: "createdAt", Type: TypeText},
		},
		Unique:     [][]string{{"email"}},
		FoldUnique: []string{"email"},
		Indexes: []Index{
			{Name: "idx_users_email_lower", Expr: "LOWER(email)", Unique: true},
		},
	},
	{
		Name:       TableCartItems,
		Bucket:     "cookie_app_cart_items",
		PrimaryKey: "id",
		Columns: []Column{
			{Name: "id", Type: TypeText},
			{Name: "userId", Type: TypeText},
			{Name: "productId", Type: TypeText},
			{Name: "quantity", Type: TypeInteger, Check: "quantity > 0", valid: positive},
			{Name: "addedAt", Type: TypeText},
		},
		Unique:      [][]string{{"userId", "productId"}},
		ForeignKeys: []ForeignKey{{Column: "userId", RefTable: TableUsers, RefColumn: "id"}},
		Indexes: []Index{
			{Name: "idx_cart_userId", Columns: []string{"userId"}},
			{Name: "idx_cart_productId", Columns: []string{"productId"}},
		},
	},
	{
		Name:       TableFavorites,
		Bucket:     "cookie_app_favorites",
		PrimaryKey: "id",
		Columns: []Column{
			{Name: "id", Type: TypeText},
			{Name: "userId", Type: TypeText},
			{Name: "productId", Type: TypeText},
			{Name: "addedAt", Type: TypeText},
		},
		Unique:      [][]string{{"userId", "productId"}},
		ForeignKeys: []ForeignKey{{Column: "userId", RefTable: TableUsers, RefColumn: "id"}},
		Indexes: []Index{
			{Name: "idx_favorites_userId", Columns: []string{"userId"}},
			{Name: "idx_favorites_productId", Columns: []string{"productId"}},
		},
	},
	{
		Name:       TableOrders,
		Bucket:     "cookie_app_orders",
		PrimaryKey: "id",
		Columns: []Column{
			{Name: "id", Type: TypeText},
			{Name: "userId", Type: TypeText},
			{Name: "date", Type: TypeText},
			{Name: "subtotal", Type: TypeReal, Check: "subtotal >= 0", valid: nonNegative},
			{Name: "tax", Type: TypeReal, Check: "tax >= 0", valid: nonNegative},
			{Name: "shipping", Type: TypeReal, Check: "shipping >= 0", valid: nonNegative},
			{Name: "total", Type: TypeReal, Check: "total >= 0", valid: nonNegative},
			{Name: "status", Type: TypeText, Check: statusCheck(), valid: oneOf(OrderStatuses...)},
			{Name: "shippingAddress", Type: TypeText},
			{Name: "paymentMethod", Type: TypeText},
		},
		ForeignKeys: []ForeignKey{{Column: "userId", RefTable: TableUsers, RefColumn: "id"}},
		Indexes: []Index{
			{Name: "idx_orders_userId", Columns: []string{"userId"}},
			{Name: "idx_orders_status", Columns: []string{"status"}},
		},
	},
	{
		Name:       TableOrderItems,
		Bucket:     "cookie_app_order_items",
		PrimaryKey: "id",
		Columns: []Column{
			{Name: "id", Type: TypeText},
			{Name: "orderId", Type: TypeText},
			{Name: "productId", Type: TypeText},
			{Name: "name", Type: TypeText},
			{Name: "price", Type: TypeReal, Check: "price >= 0", valid: nonNegative},
			{Name: "quantity", Type: TypeInteger, Check: "quantity > 0", valid: positive},
			{Name: "image", Type: TypeText},
		},
		ForeignKeys: []ForeignKey{{Column: "orderId", RefTable: TableOrders, RefColumn: "id"}},
		Indexes: []Index{
			{Name: "idx_order_items_orderId", Columns: []string{"orderId"}},
		},
	},
}

// Tables returns the schema in dependency order (parents before children)
func Tables() []*Table {
	return schema
}

// LookupTable returns the schema entry for name
func LookupTable(name string) (*Table, error) {
	for _, t := range schema {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
}

// tableForBucket maps a key/value bucket name back to its table
func tableForBucket(bucket string) (*Table, bool) {
	for _, t := range schema {
		if t.Bucket == bucket {
			return t, true
		}
	}
	return nil, false
}

type childRef struct {
	table *Table
	fk    ForeignKey
}

// children returns the foreign keys in other tables that reference t
func (t *Table) children() []childRef {
	var out []childRef
	for _, other := range schema {
		for _, fk := range other.ForeignKeys {
			if fk.RefTable == t.Name {
				out = append(out, childRef{table: other, fk: fk})
			}
		}
	}
	return out
}

// createSQL renders the CREATE TABLE statement
func (t *Table) createSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", t.Name)

	var defs []string
	for _, c := range t.Columns {
		def := fmt.Sprintf("\t%s %s", c.Name, c.Type.sql())
		if c.Name == t.PrimaryKey {
			def += " PRIMARY KEY"
		}
		if !c.Nullable {
			def += " NOT NULL"
		}
		if c.Check != "" {
			def += " CHECK(" + c.Check + ")"
		}
		defs = append(defs, def)
	}
	for _, fk := range t.ForeignKeys {
		defs = append(defs, fmt.Sprintf("\tFOREIGN KEY (%s) REFERENCES %s(%s) ON DELETE CASCADE", fk.Column, fk.RefTable, fk.RefColumn))
	}
	for _, u := range t.Unique {
		defs = append(defs, fmt.Sprintf("\tUNIQUE(%s)", strings.Join(u, ", ")))
	}

	b.WriteString(strings.Join(defs, ",\n"))
	b.WriteString("\n);")
	return b.String()
}

// indexSQL renders the CREATE INDEX statements
func (t *Table) indexSQL() []string {
	out := make([]string, 0, len(t.Indexes))
	for _, idx := range t.Indexes {
		kind := "INDEX"
		if idx.Unique {
			kind = "UNIQUE INDEX"
		}
		target := idx.Expr
		if target == "" {
			target = strings.Join(idx.Columns, ", ")
		}
		out = append(out, fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s(%s);", kind, idx.Name, t.Name, target))
	}
	return out
}

// SchemaSQL renders the full DDL script
func SchemaSQL() string {
	var parts []string
	for _, t := range schema {
		parts = append(parts, t.createSQL())
	}
	for _, t := range schema {
		parts = append(parts, t.indexSQL()...)
	}
	return strings.Join(parts, "\n\n")
}
