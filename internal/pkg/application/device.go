package application

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/multigauge/device-fleet/internal/pkg/fleet"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/repositories/models"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/requestlog"
)

type contextKey string

const (
	deviceContextKey contextKey = "device"
	traceContextKey  contextKey = "trace"
	ownerContextKey  contextKey = "owner"
)

func (api *fleetAPI) addDeviceHandlers(r chi.Router) {
	r.Use(api.logDeviceRequests)

	if api.cfg.Devices.PingEnabled {
		r.Post("/ping", api.ping)
	}

	r.Group(func(r chi.Router) {
		r.Use(api.authenticateDevice)

		r.Post("/heartbeat", api.heartbeat)
		r.Get("/gauge", api.gauge)
		r.Get("/firmware/check", api.checkFirmware)
		r.Get("/firmware/download", api.downloadFirmware)
		r.Get("/config", api.deviceConfig)
		r.Get("/status", api.deviceStatus)
	})
}

//requestTrace is filled in by inner handlers once they know which device is calling
type requestTrace struct {
	hardwareID string
}

func traceHardwareID(ctx context.Context, hardwareID string) {
	if trace, ok := ctx.Value(traceContextKey).(*requestTrace); ok {
		trace.hardwareID = hardwareID
	}
}

func (api *fleetAPI) logDeviceRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if api.requests == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		trace := &requestTrace{}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), traceContextKey, trace)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		entry := requestlog.Entry{
			At:         start.UTC(),
			RequestID:  middleware.GetReqID(r.Context()),
			Method:     r.Method,
			Path:       r.URL.Path,
			RemoteAddr: r.RemoteAddr,
			HardwareID: trace.hardwareID,
			Status:     status,
			Duration:   time.Since(start),
		}

		if err := api.requests.Record(r.Context(), entry); err != nil {
			api.log.Warnf("failed to record device request: %s", err.Error())
		}
	})
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

//authenticateDevice resolves the bearer token to a device. Validation also records liveness.
func (api *fleetAPI) authenticateDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeErrorMessage(w, http.StatusUnauthorized, "missing or malformed bearer token")
			return
		}

		device, err := api.credentials.Validate(r.Context(), token)
		if err != nil {
			writeError(w, api.log, err)
			return
		}

		api.log.Debugf("authenticated device %s for %s %s", device.HardwareID, r.Method, r.URL.Path)
		traceHardwareID(r.Context(), device.HardwareID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), deviceContextKey, device)))
	})
}

func deviceFromContext(ctx context.Context) *models.Device {
	device, _ := ctx.Value(deviceContextKey).(*models.Device)
	return device
}

type heartbeatRequest struct {
	FirmwareVersion *string `json:"firmware_version"`
}

func (api *fleetAPI) heartbeat(w http.ResponseWriter, r *http.Request) {
	device := deviceFromContext(r.Context())

	req := heartbeatRequest{}
	if err := decodeDeviceBody(w, r, &req, true); err != nil {
		writeError(w, api.log, err)
		return
	}

	if err := api.registry.UpdateLiveness(r.Context(), device, req.FirmwareVersion); err != nil {
		writeError(w, api.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"device_id":   device.DeviceID,
		"hardware_id": device.HardwareID,
	})
}

func (api *fleetAPI) gauge(w http.ResponseWriter, r *http.Request) {
	device := deviceFromContext(r.Context())

	content, err := api.registry.ResolveContent(r.Context(), device)
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	if content == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"post_id": nil, "data": nil})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"post_id":    content.ID,
		"title":      content.Title,
		"gauge_type": content.GaugeType,
		"data":       gaugeData(content),
	})
}

func (api *fleetAPI) checkFirmware(w http.ResponseWriter, r *http.Request) {
	check, err := api.catalog.CheckForUpdate(r.Context(), r.URL.Query().Get("current_version"))
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	if !check.UpdateAvailable {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"update_available": false,
			"version":          check.Version,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"update_available": true,
		"version":          check.Version,
		"file_size":        check.Firmware.FileSize,
		"checksum":         check.Firmware.Checksum,
		"download_url":     fleet.DownloadPath,
	})
}

func (api *fleetAPI) downloadFirmware(w http.ResponseWriter, r *http.Request) {
	fw, file, err := api.catalog.OpenActive(r.Context())
	if err != nil {
		writeError(w, api.log, err)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+fw.Filename+`"`)
	w.Header().Set("Content-Length", strconv.FormatInt(fw.FileSize, 10))
	w.Header().Set("X-Firmware-Version", fw.Version)
	w.Header().Set("X-Firmware-Checksum", fw.Checksum)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, file); err != nil {
		api.log.Warnf("firmware download of %s was interrupted: %s", fw.Version, err.Error())
	}
}

func (api *fleetAPI) deviceConfig(w http.ResponseWriter, r *http.Request) {
	device := deviceFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"config": api.registry.GetConfig(device)})
}

func (api *fleetAPI) deviceStatus(w http.ResponseWriter, r *http.Request) {
	device := deviceFromContext(r.Context())

	content, err := api.registry.ResolveContent(r.Context(), device)
	if err != nil {
		writeError(w, api.log, err)
		return
	}

	var assignedGauge interface{}
	var assignedPostID interface{}
	if content != nil {
		assignedGauge = content.Title
		assignedPostID = content.ID
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"device_id":        device.DeviceID,
		"hardware_id":      device.HardwareID,
		"name":             device.Name,
		"firmware_version": device.FirmwareVersion,
		"assigned_gauge":   assignedGauge,
		"assigned_post_id": assignedPostID,
	})
}

type pingRequest struct {
	MAC             string  `json:"mac"`
	FirmwareVersion *string `json:"firmware_version"`
}

//ping lets a device check in by hardware id alone. It is only routed when explicitly enabled.
func (api *fleetAPI) ping(w http.ResponseWriter, r *http.Request) {
	req := pingRequest{}
	if err := decodeDeviceBody(w, r, &req, false); err != nil {
		writeError(w, api.log, err)
		return
	}

	mac := fleet.NormalizeHardwareID(req.MAC)
	traceHardwareID(r.Context(), mac)

	device, err := api.registry.CheckIn(r.Context(), mac, req.FirmwareVersion)
	if err != nil {
		if errors.Is(err, fleet.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not registered", "mac": mac})
			return
		}
		writeError(w, api.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"device":      device.Name,
		"hardware_id": device.HardwareID,
	})
}
