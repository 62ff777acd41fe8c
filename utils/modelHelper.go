package utils

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/poskusoft/pos_backend/config"
)

// FetchModel loads a record of type T by id, preloading any given
// associations. Returns ErrorRecordNotFound for missing rows.
func FetchModel[T any](ctx context.Context, id int, associations ...string) (*T, error) {
	var model T

	db := config.GetDB()
	dbCtx := db.WithContext(ctx)
	for _, association := range associations {
		dbCtx = dbCtx.Preload(association)
	}
	if err := dbCtx.First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrorRecordNotFound
		}
		return nil, err
	}
	return &model, nil
}
