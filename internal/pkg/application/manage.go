package application

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi"
	"github.com/multigauge/device-fleet/internal/pkg/fleet"
)

func (api *fleetAPI) addManagementHandlers(r chi.Router) {
	r.Use(api.requireOwner)

	r.Get("/devices", api.listDevices)
	r.Post("/devices", api.registerDevice)
	r.Route("/devices/{device}", func(r chi.Router) {
		r.Get("/", api.getDevice)
		r.Patch("/", api.updateDevice)
		r.Delete("/", api.deleteDevice)
		r.Put("/assignment", api.assignContent)
		r.Post("/token", api.rotateToken)
		r.Get("/config", api.getDeviceConfig)
		r.Put("/config", api.setDeviceConfig)
		r.Post("/config/reset", api.resetDeviceConfig)
	})

	r.Get("/gauges", api.listGauges)
	r.Post("/gauges", api.createGauge)
	r.Get("/gauges/{gauge}", api.getGauge)
	r.Delete("/gauges/{gauge}", api.deleteGauge)
}

//requireOwner trusts the owner header set by the session layer in front of this service
func (api *fleetAPI) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID := strings.TrimSpace(r.Header.Get(api.cfg.Owners.Header))
		if ownerID == "" {
			writeErrorMessage(w, http.StatusUnauthorized, "missing owner identity")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerContextKey, ownerID)))
	})
}

func ownerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerContextKey).(string)
	return owner
}

func (api *fleetAPI) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := api.registry.ListForOwner(r.Context(), ownerFromContext(r.Context()))
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	views := make([]deviceView, 0, len(devices))
	for i := range devices {
		views = append(views, api.newDeviceView(&devices[i]))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": views})
}

type registerDeviceRequest struct {
	HardwareID string `json:"hardware_id"`
	Name       string `json:"name"`
}

func (api *fleetAPI) registerDevice(w http.ResponseWriter, r *http.Request) {
	req := registerDeviceRequest{}
	if err := decodeJSONBody(w, r, &req, false); err != nil {
		writeError(w, api.log, err)
		return
	}

	device, token, err := api.registry.Register(r.Context(), req.HardwareID, req.Name, ownerFromContext(r.Context()))
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"device": api.newDeviceView(device),
		"token":  token,
	})
}

func (api *fleetAPI) getDevice(w http.ResponseWriter, r *http.Request) {
	device, err := api.registry.GetOwned(r.Context(), ownerFromContext(r.Context()), chi.URLParam(r, "device"))
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	writeJSON(w, http.StatusOK, api.newDeviceView(device))
}

type updateDeviceRequest struct {
	Name       *string  `json:"name"`
	Tag        *string  `json:"tag"`
	ModuleType *string  `json:"module_type"`
	Country    *string  `json:"country"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
}

func (api *fleetAPI) updateDevice(w http.ResponseWriter, r *http.Request) {
	req := updateDeviceRequest{}
	if err := decodeJSONBody(w, r, &req, false); err != nil {
		writeError(w, api.log, err)
		return
	}

	device, err := api.registry.UpdateDetails(r.Context(), ownerFromContext(r.Context()), chi.URLParam(r, "device"), fleet.DeviceDetails{
		Name:       req.Name,
		Tag:        req.Tag,
		ModuleType: req.ModuleType,
		Country:    req.Country,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
	})
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	writeJSON(w, http.StatusOK, api.newDeviceView(device))
}

func (api *fleetAPI) deleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := api.registry.Delete(r.Context(), ownerFromContext(r.Context()), chi.URLParam(r, "device")); err != nil {
		writeError(w, api.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignmentRequest struct {
	PostID *uint `json:"post_id"`
}

func (api *fleetAPI) assignContent(w http.ResponseWriter, r *http.Request) {
	req := assignmentRequest{}
	if err := decodeJSONBody(w, r, &req, false); err != nil {
		writeError(w, api.log, err)
		return
	}

	device, err := api.registry.AssignContent(r.Context(), ownerFromContext(r.Context()), chi.URLParam(r, "device"), req.PostID)
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	writeJSON(w, http.StatusOK, api.newDeviceView(device))
}

func (api *fleetAPI) rotateToken(w http.ResponseWriter, r *http.Request) {
	token, err := api.registry.RotateToken(r.Context(), ownerFromContext(r.Context()), chi.URLParam(r, "device"))
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (api *fleetAPI) getDeviceConfig(w http.ResponseWriter, r *http.Request) {
	device, err := api.registry.GetOwned(r.Context(), ownerFromContext(r.Context()), chi.URLParam(r, "device"))
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"config": api.registry.GetConfig(device)})
}

func (api *fleetAPI) setDeviceConfig(w http.ResponseWriter, r *http.Request) {
	body, err := readJSONBody(w, r)
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	cfg, err := api.registry.SetConfig(r.Context(), ownerFromContext(r.Context()), chi.URLParam(r, "device"), body)
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"config": cfg})
}

func (api *fleetAPI) resetDeviceConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := api.registry.ResetConfig(r.Context(), ownerFromContext(r.Context()), chi.URLParam(r, "device"))
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"config": cfg})
}

func (api *fleetAPI) listGauges(w http.ResponseWriter, r *http.Request) {
	gauges, err := api.contents.ListForOwner(r.Context(), ownerFromContext(r.Context()))
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	views := make([]gaugeView, 0, len(gauges))
	for i := range gauges {
		views = append(views, newGaugeView(&gauges[i]))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"gauges": views})
}

type createGaugeRequest struct {
	Title     string          `json:"title"`
	GaugeType string          `json:"gauge_type"`
	Data      json.RawMessage `json:"data"`
}

func (api *fleetAPI) createGauge(w http.ResponseWriter, r *http.Request) {
	req := createGaugeRequest{}
	if err := decodeJSONBody(w, r, &req, false); err != nil {
		writeError(w, api.log, err)
		return
	}

	gauge, err := api.contents.Create(r.Context(), ownerFromContext(r.Context()), req.Title, req.GaugeType, req.Data)
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, newGaugeView(gauge))
}

func (api *fleetAPI) getGauge(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "gauge")
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	gauge, err := api.contents.GetOwned(r.Context(), ownerFromContext(r.Context()), id)
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	writeJSON(w, http.StatusOK, newGaugeView(gauge))
}

func (api *fleetAPI) deleteGauge(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "gauge")
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	if err := api.contents.Delete(r.Context(), ownerFromContext(r.Context()), id); err != nil {
		writeError(w, api.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func uintParam(r *http.Request, name string) (uint, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid %s id %q", fleet.ErrValidation, name, raw)
	}
	return uint(id), nil
}
