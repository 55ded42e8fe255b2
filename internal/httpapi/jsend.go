package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	statusSuccess = "success"
	statusFail    = "fail"
	statusError   = "error"
)

// envelope is the JSend body every /api route answers with.
type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// fieldErrors collects query and path problems so one response names all of them.
type fieldErrors map[string]string

func (f fieldErrors) add(field string, err error) {
	if err != nil {
		if _, seen := f[field]; !seen {
			f[field] = err.Error()
		}
	}
}

func success(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, envelope{Status: statusSuccess, Data: data})
}

// fail answers a client error. 5xx codes belong to errorStatus.
func fail(c echo.Context, code int, message string) error {
	return c.JSON(code, envelope{Status: statusFail, Message: message})
}

func failFields(c echo.Context, fields fieldErrors) error {
	return c.JSON(http.StatusBadRequest, envelope{
		Status:  statusFail,
		Message: "Validation failed",
		Data:    map[string]any{"validation_errors": fields},
	})
}

func errorStatus(c echo.Context, code int, message string) error {
	return c.JSON(code, envelope{Status: statusError, Message: message, Code: code})
}
