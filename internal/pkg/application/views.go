package application

import (
	"encoding/json"
	"time"

	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/repositories/models"
)

type deviceView struct {
	ID              string     `json:"id"`
	HardwareID      string     `json:"hardware_id"`
	Name            string     `json:"name"`
	OwnerID         string     `json:"owner_id"`
	AssignedPostID  *uint      `json:"assigned_post_id"`
	FirmwareVersion string     `json:"firmware_version"`
	LastSeenAt      *time.Time `json:"last_seen_at"`
	Online          bool       `json:"online"`
	Tag             string     `json:"tag"`
	ModuleType      string     `json:"module_type"`
	Country         string     `json:"country"`
	Latitude        *float64   `json:"latitude"`
	Longitude       *float64   `json:"longitude"`
	RegisteredAt    time.Time  `json:"registered_at"`
}

func (api *fleetAPI) newDeviceView(device *models.Device) deviceView {
	return deviceView{
		ID:              device.DeviceID,
		HardwareID:      device.HardwareID,
		Name:            device.Name,
		OwnerID:         device.OwnerID,
		AssignedPostID:  device.AssignedContentID,
		FirmwareVersion: device.FirmwareVersion,
		LastSeenAt:      device.LastSeenAt,
		Online:          api.registry.IsOnline(device),
		Tag:             device.Tag,
		ModuleType:      device.ModuleType,
		Country:         device.Country,
		Latitude:        device.Latitude,
		Longitude:       device.Longitude,
		RegisteredAt:    device.CreatedAt,
	}
}

type firmwareView struct {
	ID         uint      `json:"id"`
	Version    string    `json:"version"`
	Filename   string    `json:"filename"`
	FileSize   int64     `json:"file_size"`
	Checksum   string    `json:"checksum"`
	Notes      string    `json:"notes"`
	IsActive   bool      `json:"is_active"`
	UploadedBy string    `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
}

func newFirmwareView(fw *models.Firmware) firmwareView {
	return firmwareView{
		ID:         fw.ID,
		Version:    fw.Version,
		Filename:   fw.Filename,
		FileSize:   fw.FileSize,
		Checksum:   fw.Checksum,
		Notes:      fw.Notes,
		IsActive:   fw.IsActive,
		UploadedBy: fw.UploadedBy,
		UploadedAt: fw.CreatedAt,
	}
}

type gaugeView struct {
	ID        uint            `json:"id"`
	Title     string          `json:"title"`
	GaugeType string          `json:"gauge_type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

func newGaugeView(g *models.GaugeFace) gaugeView {
	return gaugeView{
		ID:        g.ID,
		Title:     g.Title,
		GaugeType: g.GaugeType,
		Data:      gaugeData(g),
		CreatedAt: g.CreatedAt,
	}
}

func gaugeData(g *models.GaugeFace) json.RawMessage {
	if len(g.Data) == 0 {
		return json.RawMessage("null")
	}
	return json.RawMessage(g.Data)
}
