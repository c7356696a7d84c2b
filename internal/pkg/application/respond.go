package application

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/multigauge/device-fleet/internal/pkg/fleet"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/logging"
)

const maxJSONBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

//statusFor maps the fleet error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, fleet.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, fleet.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, fleet.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, fleet.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fleet.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

//writeError logs internal failures and never leaks their details to the client
func writeError(w http.ResponseWriter, log logging.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Errorf("request failed: %s", err.Error())
		writeErrorMessage(w, status, "internal server error")
		return
	}
	writeErrorMessage(w, status, err.Error())
}

//decodeJSONBody decodes a single JSON object into v, rejecting unknown fields.
//An empty body is accepted when allowEmpty is set.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v interface{}, allowEmpty bool) error {
	return decodeBody(w, r, v, allowEmpty, true)
}

//decodeDeviceBody is decodeJSONBody for gauges, which may send telemetry keys we do not know about
func decodeDeviceBody(w http.ResponseWriter, r *http.Request, v interface{}, allowEmpty bool) error {
	return decodeBody(w, r, v, allowEmpty, false)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, allowEmpty, strict bool) error {
	d := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if strict {
		d.DisallowUnknownFields()
	}

	if err := d.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("%w: malformed request body: %s", fleet.ErrValidation, err.Error())
	}
	return nil
}

func readJSONBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: unable to read request body: %s", fleet.ErrValidation, err.Error())
	}
	return b, nil
}
