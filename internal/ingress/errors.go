package ingress

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/maneesh/blogmedia/internal/mediaerr"
	"github.com/maneesh/blogmedia/internal/rollback"
	"github.com/sirupsen/logrus"
)

// ErrorBody is the JSON shape of every failed response.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Normalize converts any error into a *mediaerr.Error. Batch failures keep the
// kind of their first item failure; unknown errors are internal.
func Normalize(err error) *mediaerr.Error {
	if me, ok := err.(*mediaerr.Error); ok {
		return me
	}
	var be *rollback.BatchError
	if errors.As(err, &be) {
		return be.AsMediaError()
	}
	var me *mediaerr.Error
	if errors.As(err, &me) {
		return me
	}
	return &mediaerr.Error{Kind: mediaerr.KindInternal, Code: "INTERNAL", Err: err}
}

// WriteError writes err as an ErrorBody with the status of its kind.
func WriteError(w http.ResponseWriter, err error) {
	me := Normalize(err)
	status := mediaerr.HTTPStatus(me.Kind)
	body := ErrorBody{
		Code:    me.Code,
		Message: me.Error(),
		Field:   me.Field,
		Data:    me.Data,
	}
	if body.Code == "" {
		body.Code = strings.ToUpper(string(me.Kind))
	}

	entry := logrus.WithFields(logrus.Fields{"code": body.Code, "status": status})
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("request failed")
	} else {
		entry.Debug(body.Message)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
