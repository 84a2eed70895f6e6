package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsQuery(t *testing.T) {
	tests := []struct {
		stmt string
		want bool
	}{
		{"SELECT * FROM users", true},
		{"  select id from orders where status = ?", true},
		{"PRAGMA table_info(users)", true},
		{"WITH t AS (SELECT 1) SELECT * FROM t", true},
		{"UPDATE orders SET status = ? WHERE id = ?", false},
		{"DELETE FROM cart_items", false},
		{"insert into favorites (id) values (?)", false},
	}

	for _, tt := range tests {
		t.Run(tt.stmt, func(t *testing.T) {
			assert.Equal(t, tt.want, isQuery(tt.stmt))
		})
	}
}
