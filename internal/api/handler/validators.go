package handler

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/d60-Lab/townhall/internal/model"
)

var registerOnce sync.Once

// registerValidators adds the custom binding tags used by the request structs.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("channel", func(fl validator.FieldLevel) bool {
			return model.Channel(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("demographic", func(fl validator.FieldLevel) bool {
			return model.ValidDemographic(fl.Field().String())
		})
	})
}
