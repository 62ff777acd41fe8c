package utils

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/poskusoft/pos_backend/config"
)

var validate = validator.New()

// ValidateStruct runs the `binding` tag rules on an input struct, so the
// posting engine enforces the same shape whether it is reached through gin
// or called directly.
func ValidateStruct(input any) error {
	if err := validate.Struct(input); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return NewValidationError(0, verrs[0].Field(), "failed rule "+verrs[0].Tag())
		}
		return err
	}
	return nil
}

func init() {
	validate.SetTagName("binding")
}

// ValidateResourceId checks that a record of type T with the given id exists.
func ValidateResourceId[T any](ctx context.Context, id interface{}) error {
	count, err := ResourceCountWhere[T](ctx, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}
	return nil
}

// ValidateUnique returns an error when another record of type T already has
// column = value. exceptId = 0 for create.
func ValidateUnique[T any](ctx context.Context, column string, value interface{}, exceptId int) error {
	var count int64
	var err error
	if exceptId == 0 {
		count, err = ResourceCountWhere[T](ctx, column+" = ?", value)
	} else {
		count, err = ResourceCountWhere[T](ctx, column+" = ? AND NOT id = ?", value, exceptId)
	}
	if err != nil {
		return err
	}
	if count > 0 {
		return NewValidationError(0, column, "duplicate "+column)
	}
	return nil
}

// ResourceCountWhere counts records of type T matching a condition.
func ResourceCountWhere[T any](ctx context.Context, condition string, value ...interface{}) (int64, error) {
	var model T

	db := config.GetDB()
	var count int64
	if err := db.WithContext(ctx).Model(&model).Where(condition, value...).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
