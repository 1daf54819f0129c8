// Package widgets is a small demo domain resource that exercises the
// held-transaction core end-to-end: its handlers run every database write
// through the request dispatcher, so a caller can create several widgets
// across independent HTTP requests inside one held transaction and commit
// or roll them back as a unit.
package widgets

import (
	"context"
	"time"

	"github.com/heldtx/heldtx/internal/dbtx"
)

// Widget is the demo resource's shape.
type Widget struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Create inserts a widget and returns it with its assigned id. It is
// passed to the dispatcher as a heldtx.Action, so it runs either directly
// against the pool or inside a held transaction's savepoint.
func Create(name string, now time.Time) func(ctx context.Context, exec dbtx.Exec) (any, error) {
	return func(ctx context.Context, exec dbtx.Exec) (any, error) {
		res, err := exec.ExecContext(ctx, "INSERT INTO widgets (name, created_at) VALUES (?, ?)", name, now)
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		return Widget{ID: id, Name: name, CreatedAt: now}, nil
	}
}

// List returns every widget, ordered by id. Reading through the
// dispatcher lets a caller observe writes it made earlier in the same held
// transaction before committing.
func List(ctx context.Context, exec dbtx.Exec) (any, error) {
	rows, err := exec.QueryContext(ctx, "SELECT id, name, created_at FROM widgets ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	widgets := make([]Widget, 0)
	for rows.Next() {
		var w Widget
		if err := rows.Scan(&w.ID, &w.Name, &w.CreatedAt); err != nil {
			return nil, err
		}
		widgets = append(widgets, w)
	}
	return widgets, rows.Err()
}
