package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/recall/internal/ctxlogger"
)

const maxBodySize = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

func JSON(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("content-type", "application/json; charset=utf-8")
	rw.WriteHeader(status)

	if err := json.NewEncoder(rw).Encode(v); err != nil {
		panic(fmt.Errorf("httputil.JSON: could not encode response: %w", err))
	}
}

func Error(rw http.ResponseWriter, status int, message string) {
	JSON(rw, status, map[string]interface{}{"error": message})
}

func ErrorWithMessage(rw http.ResponseWriter, status int, err, message string) {
	JSON(rw, status, map[string]interface{}{"error": err, "message": message})
}

// Fail is for errors the handler has no better answer for. The underlying
// error is logged and echoed back as the message.
func Fail(rw http.ResponseWriter, r *http.Request, err error, what string) {
	ctxlogger.GetLogger(r.Context()).WithError(err).WithFields(logrus.Fields{
		"http.failure": what,
	}).Error("request failed")

	ErrorWithMessage(rw, http.StatusInternalServerError, what, err.Error())
}

func NotFound(rw http.ResponseWriter, r *http.Request) {
	Error(rw, http.StatusNotFound, "Not found")
}

func Unauthorized(rw http.ResponseWriter, r *http.Request) {
	Error(rw, http.StatusUnauthorized, "Unauthorized")
}

type BadRequestError struct {
	Message string
	Err     error
}

func (e *BadRequestError) Error() string {
	return e.Message
}

func (e *BadRequestError) Unwrap() error {
	return e.Err
}

// BadRequest writes a 400 for err if it is a *BadRequestError and reports
// whether it did.
func BadRequest(rw http.ResponseWriter, err error) bool {
	var bad *BadRequestError
	if !errors.As(err, &bad) {
		return false
	}

	Error(rw, http.StatusBadRequest, bad.Message)

	return true
}

// DecodeJSON reads a JSON body into v and validates it with its `validate`
// struct tags. Any problem with the body is a *BadRequestError.
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return &BadRequestError{Message: "Request body is required", Err: err}
		}

		return &BadRequestError{Message: "Invalid JSON body", Err: err}
	}

	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &BadRequestError{Message: validationMessage(verrs[0]), Err: err}
		}

		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return fmt.Errorf("httputil.DecodeJSON: %w", err)
		}

		return &BadRequestError{Message: err.Error(), Err: err}
	}

	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
