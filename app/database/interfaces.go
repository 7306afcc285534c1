package database

import (
	"context"
	"time"
)

// Sort fields accepted by List.
const (
	SortByID        = "id"
	SortByName      = "name"
	SortByCreatedAt = "created_at"
)

// Sort orders accepted by List.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// ListOptions selects one page of stored characters.
type ListOptions struct {
	Page    int
	PerPage int
	SortBy  string
	Order   string
}

type CharacterRepository interface {
	UpsertBatch(ctx context.Context, characters []Character) (int, error)
	List(ctx context.Context, opts ListOptions) ([]Character, int, error)
	GetByID(ctx context.Context, id int) (*Character, error)
	Count(ctx context.Context) (int, error)
	CountByField(ctx context.Context, field string) (map[string]int, error)
	LastSyncedAt(ctx context.Context) (*time.Time, error)
}
