package repository

import (
	"context"

	"github.com/user/booksource-service/internal/entity"
)

// BookSourceRepository defines durable CRUD for book source records.
type BookSourceRepository interface {
	// Init opens the medium and creates the schema. Calling it again is a no-op.
	Init(ctx context.Context) error
	// GetAll returns every record ordered by weight, then lastUpdateTime, both descending.
	GetAll(ctx context.Context) ([]*entity.BookSource, error)
	// Get returns the record with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*entity.BookSource, error)
	// Add inserts or replaces the record by id, assigning one when absent.
	// It stamps lastUpdateTime on the passed record and returns the id.
	Add(ctx context.Context, source *entity.BookSource) (string, error)
	// Update writes only the supplied columns plus lastUpdateTime and returns
	// the new lastUpdateTime.
	Update(ctx context.Context, id string, fields map[string]any) (int64, error)
	// Remove deletes by id. Removing an absent id is not an error.
	Remove(ctx context.Context, id string) error
	// Close releases the underlying connection.
	Close() error
}
