package dto

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var datePresets = map[string]struct{}{
	"today":        {},
	"yesterday":    {},
	"last_7_days":  {},
	"last_30_days": {},
	"this_month":   {},
	"last_month":   {},
	"this_year":    {},
}

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("datepreset", validDatePreset)
	}
}

func validDatePreset(fl validator.FieldLevel) bool {
	_, ok := datePresets[fl.Field().String()]
	return ok
}
