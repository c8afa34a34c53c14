package response

import (
	"encoding/json"
	"net/http"

	"github.com/edvin/quotausage/internal/model"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteErr writes err with the status of its kind and its stable code.
func WriteErr(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusOf(err), map[string]string{
		"error": err.Error(),
		"code":  model.CodeOf(err),
	})
}

// StatusOf maps the kind of err to an HTTP status.
func StatusOf(err error) int {
	switch model.KindOf(err) {
	case model.KindValidation, model.KindAmbiguity:
		return http.StatusUnprocessableEntity
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConflict:
		return http.StatusConflict
	case model.KindSourceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
