package database

import (
	"context"

	"coin/internal/model"
)

// Repository defines the standard interface for database operations.
type Repository interface {
	Migrate(ctx context.Context) error
	SaveCatalog(ctx context.Context, catalog model.Catalog) error
	LoadCatalog(ctx context.Context) (model.Catalog, error)
	LogPrice(ctx context.Context, price model.Price) error
}
