package app

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type ValidError struct {
	Key     string
	Message string
}

type ValidErrors []*ValidError

func (v *ValidError) Error() string {
	return v.Message
}

func (v ValidErrors) Error() string {
	return strings.Join(v.Errors(), ",")
}

func (v ValidErrors) Errors() []string {
	var errs []string
	for _, err := range v {
		errs = append(errs, err.Error())
	}
	return errs
}

// BindAndValid 绑定请求参数并执行结构体校验
func BindAndValid(c *gin.Context, v interface{}) (bool, ValidErrors) {
	var errs ValidErrors

	if err := c.ShouldBind(v); err != nil {
		errs = append(errs, &ValidError{
			Key:     "body",
			Message: err.Error(),
		})
		return false, errs
	}

	if err := validate.Struct(v); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, fieldErr := range validationErrors {
				errs = append(errs, &ValidError{
					Key:     fieldErr.Field(),
					Message: fieldErr.Error(),
				})
			}
			return false, errs
		}
		errs = append(errs, &ValidError{
			Key:     "struct",
			Message: err.Error(),
		})
		return false, errs
	}

	return true, nil
}
