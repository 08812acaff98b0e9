package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message,omitempty"`
}

var registerValidators sync.Once

// decimal.Decimal is a struct, so validator skips numeric tags unless it is
// presented as a number.
func registerDecimalType() {
	registerValidators.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			d, ok := field.Interface().(decimal.Decimal)
			if !ok {
				return nil
			}
			f, _ := d.Float64()
			return f
		}, decimal.Decimal{})
	})
}

func BindJSON(ctx *gin.Context, out interface{}) bool {
	registerDecimalType()

	err := ctx.ShouldBindJSON(out)

	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RespondBadRequest(ctx, "Request body too large", gin.H{"limit": tooLarge.Limit})
			return false
		}

		RespondBadRequest(ctx, "Invalid request body", parseBindError(err, out))

		return false
	}

	return true
}

// loanIDParam reads :loanId and rejects anything that is not a UUID.
func loanIDParam(ctx *gin.Context) (string, bool) {
	raw := strings.TrimSpace(ctx.Param("loanId"))
	if raw == "" {
		RespondBadRequest(ctx, "Loan id is required", nil)
		return "", false
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		RespondBadRequest(ctx, "Invalid loan id", gin.H{"field": "loanId"})
		return "", false
	}
	return id.String(), true
}

func parseBindError(err error, out interface{}) interface{} {
	if errors.Is(err, io.EOF) {
		return gin.H{"json": "empty_body"}
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		fields := make([]FieldError, 0, len(validationErrs))
		for _, fe := range validationErrs {
			fields = append(fields, FieldError{
				Field:   jsonFieldName(out, fe.StructField()),
				Rule:    fe.Tag(),
				Param:   fe.Param(),
				Message: validationMessage(fe.Tag(), fe.Param()),
			})
		}
		return gin.H{"fields": fields}
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return gin.H{"json": "invalid_json_syntax", "offset": syntaxErr.Offset}
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		// the decoder already reports the JSON key
		field := typeErr.Field
		return gin.H{
			"json":  "invalid_json_type",
			"field": field,
			"fields": []FieldError{{
				Field:   field,
				Rule:    "type",
				Message: "must be of type " + typeErr.Type.String(),
			}},
		}
	}

	return gin.H{"reason": err.Error()}
}

// jsonFieldName maps a Go field of the (flat) request struct to its JSON key.
func jsonFieldName(out interface{}, goField string) string {
	t := reflect.TypeOf(out)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return goField
	}

	sf, ok := t.FieldByName(goField)
	if !ok {
		return goField
	}

	name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return goField
	}
	return name
}

func validationMessage(rule, param string) string {
	switch rule {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min", "gte":
		return "must be at least " + param
	case "max", "lte":
		return "must be at most " + param
	case "gt":
		return "must be greater than " + param
	case "len":
		return "must be exactly " + param
	case "oneof":
		return "must be one of " + strings.ReplaceAll(param, " ", ", ")
	}
	if param != "" {
		return fmt.Sprintf("failed %s validation (%s)", rule, param)
	}
	return "failed " + rule + " validation"
}
