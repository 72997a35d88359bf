package validator

import (
	"github.com/go-playground/validator/v10"
	"github.com/ocrbench/pipeline/api/v1alpha1"
)

func registerFn(tag string, fn func(fl validator.FieldLevel) bool) func(v *validator.Validate) {
	return func(v *validator.Validate) {
		_ = v.RegisterValidation(tag, fn)
	}
}

func registerStructFn(fn validator.StructLevelFunc, types ...any) func(v *validator.Validate) {
	return func(v *validator.Validate) {
		v.RegisterStructValidation(fn, types...)
	}
}

func NewLayoutValidationRules() []ValidationRule {
	return []ValidationRule{
		{
			Rule: registerFn(classNameTag, classNameValidator),
		},
		{
			Rule: registerStructFn(bboxValidator, v1alpha1.BBox{}),
		},
	}
}

func NewPipelineValidationRules() []ValidationRule {
	return []ValidationRule{
		{
			Rule: registerFn(stageNameTag, stageNameValidator),
		},
	}
}
