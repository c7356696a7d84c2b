package application

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/multigauge/device-fleet/internal/pkg/fleet"
)

const (
	defaultRequestLogLimit = 50
	multipartMemoryBytes   = 8 << 20
	multipartOverheadBytes = 1 << 20
)

func (api *fleetAPI) addAdminHandlers(r chi.Router) {
	r.Use(api.requireOwner)
	r.Use(api.requireAdmin)

	r.Get("/firmware", api.listFirmware)
	r.Post("/firmware", api.uploadFirmware)
	r.Post("/firmware/{firmware}/activate", api.activateFirmware)
	r.Delete("/firmware/{firmware}", api.deleteFirmware)

	r.Get("/requests", api.recentRequests)
}

func (api *fleetAPI) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !api.cfg.Owners.IsAdmin(ownerFromContext(r.Context())) {
			writeErrorMessage(w, http.StatusForbidden, "administrator access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (api *fleetAPI) listFirmware(w http.ResponseWriter, r *http.Request) {
	firmwares, err := api.catalog.List(r.Context())
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	views := make([]firmwareView, 0, len(firmwares))
	for i := range firmwares {
		views = append(views, newFirmwareView(&firmwares[i]))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"firmwares": views})
}

func (api *fleetAPI) uploadFirmware(w http.ResponseWriter, r *http.Request) {
	maxBytes := api.cfg.Firmware.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverheadBytes)

	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorMessage(w, http.StatusRequestEntityTooLarge, "firmware image is too large")
			return
		}
		writeErrorMessage(w, http.StatusBadRequest, "expected a multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "missing firmware file")
		return
	}
	defer file.Close()

	if header.Size > maxBytes {
		writeErrorMessage(w, http.StatusRequestEntityTooLarge, "firmware image is too large")
		return
	}

	fw, err := api.catalog.Upload(r.Context(), fleet.Upload{
		Version:    r.FormValue("version"),
		Notes:      r.FormValue("notes"),
		Filename:   header.Filename,
		UploadedBy: ownerFromContext(r.Context()),
		Content:    file,
	})
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, newFirmwareView(fw))
}

func (api *fleetAPI) activateFirmware(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "firmware")
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	fw, err := api.catalog.Activate(r.Context(), id)
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	writeJSON(w, http.StatusOK, newFirmwareView(fw))
}

func (api *fleetAPI) deleteFirmware(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "firmware")
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	if err := api.catalog.Delete(r.Context(), id); err != nil {
		writeError(w, api.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *fleetAPI) recentRequests(w http.ResponseWriter, r *http.Request) {
	limit := defaultRequestLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeErrorMessage(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	if api.requests == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"requests": []interface{}{}})
		return
	}

	entries, err := api.requests.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": entries})
}
