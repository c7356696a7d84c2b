package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

//Device is the database model to store registered gauge devices in our database
type Device struct {
	gorm.Model
	DeviceID          string `gorm:"unique;size:36"`
	HardwareID        string `gorm:"unique;size:50;not null"`
	Name              string `gorm:"size:100"`
	OwnerID           string `gorm:"index;size:64;not null"`
	AssignedContentID *uint  `gorm:"index"`
	FirmwareVersion   string `gorm:"size:20"`
	LastSeenAt        *time.Time
	Config            datatypes.JSON
	Tag               string `gorm:"size:30"`
	ModuleType        string `gorm:"size:30"`
	Country           string `gorm:"size:5"`
	Latitude          *float64
	Longitude         *float64
}

//DeviceToken stores bearer credentials handed out to devices. Rows are deactivated, never deleted.
type DeviceToken struct {
	gorm.Model
	Token    string `gorm:"unique;size:64;not null"`
	DeviceID string `gorm:"index;size:36;not null"`
	OwnerID  string `gorm:"size:64;not null"`
	IsActive bool   `gorm:"index;not null;default:true"`
}

//Firmware stores metadata about an uploaded firmware image. The binary itself lives on disk.
type Firmware struct {
	gorm.Model
	Version    string `gorm:"unique;size:20;not null"`
	Filename   string `gorm:"size:255;not null"`
	FileSize   int64  `gorm:"not null"`
	Checksum   string `gorm:"size:64"`
	Notes      string
	IsActive   bool   `gorm:"index;not null;default:false"`
	UploadedBy string `gorm:"size:64"`
}

//GaugeFace is a gauge-face configuration that can be assigned to devices
type GaugeFace struct {
	gorm.Model
	OwnerID   string `gorm:"index;size:64;not null"`
	Title     string `gorm:"size:100;not null"`
	GaugeType string `gorm:"size:30"`
	Data      datatypes.JSON
}
