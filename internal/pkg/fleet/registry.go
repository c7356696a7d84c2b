package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/logging"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/repositories/database"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/repositories/models"
	"gorm.io/datatypes"
)

const (
	maxNameLength       = 40
	maxHardwareIDLength = 50
	maxTagLength        = 30

	//DefaultOnlineThreshold is how recently a device must have been seen to count as online
	DefaultOnlineThreshold = 10 * time.Minute
	//DefaultModuleType is assumed for devices that do not say otherwise
	DefaultModuleType = "ESP32-S3"
	//DefaultCountry is assumed for devices that do not say otherwise
	DefaultCountry = "FR"
)

var reCountry = regexp.MustCompile(`^[A-Z]{2,5}$`)

//Registry owns device records: registration, ownership checks, liveness, assignment and config
type Registry struct {
	db          database.Datastore
	credentials *CredentialStore
	messenger   MessagingContext
	log         logging.Logger
	threshold   time.Duration
	now         func() time.Time
}

//NewRegistry creates a device registry. A zero threshold selects DefaultOnlineThreshold.
func NewRegistry(db database.Datastore, credentials *CredentialStore, messenger MessagingContext, log logging.Logger, threshold time.Duration) *Registry {
	if threshold <= 0 {
		threshold = DefaultOnlineThreshold
	}
	return &Registry{
		db:          db,
		credentials: credentials,
		messenger:   messenger,
		log:         log,
		threshold:   threshold,
		now:         time.Now,
	}
}

//NormalizeHardwareID canonicalises a hardware address for comparison and storage
func NormalizeHardwareID(hardwareID string) string {
	return strings.ToUpper(strings.TrimSpace(hardwareID))
}

//DefaultDeviceName derives a display name from the tail of the hardware id
func DefaultDeviceName(hardwareID string) string {
	tail := []rune(hardwareID)
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	return "Device " + string(tail)
}

func cleanName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > maxNameLength {
		name = strings.TrimSpace(string([]rune(name)[:maxNameLength]))
	}
	return name
}

//Register creates a device for the owner together with its first bearer token.
//The token plaintext is only ever returned here.
func (r *Registry) Register(ctx context.Context, hardwareID, name, ownerID string) (*models.Device, string, error) {
	hardwareID = NormalizeHardwareID(hardwareID)
	if hardwareID == "" {
		return nil, "", validationError("hardware id is required")
	}
	if len(hardwareID) > maxHardwareIDLength {
		return nil, "", validationError("hardware id must be at most %d characters", maxHardwareIDLength)
	}
	if ownerID == "" {
		return nil, "", validationError("owner is required")
	}

	name = cleanName(name)
	if name == "" {
		name = DefaultDeviceName(hardwareID)
	}

	token, err := r.credentials.mint(ownerID)
	if err != nil {
		return nil, "", err
	}

	device := &models.Device{
		DeviceID:   uuid.NewString(),
		HardwareID: hardwareID,
		Name:       name,
		OwnerID:    ownerID,
		ModuleType: DefaultModuleType,
		Country:    DefaultCountry,
	}

	if err := r.db.CreateDevice(ctx, device, token); err != nil {
		return nil, "", storeError(err, "device "+hardwareID)
	}

	r.log.WithField("device", device.DeviceID).Infof("registered %s for owner %s", hardwareID, ownerID)
	publish(r.messenger, r.log, &DeviceRegistered{
		DeviceID:   device.DeviceID,
		HardwareID: hardwareID,
		OwnerID:    ownerID,
		Timestamp:  r.now().UTC(),
	})

	return device, token.Token, nil
}

//Get returns the device with the given id
func (r *Registry) Get(ctx context.Context, deviceID string) (*models.Device, error) {
	device, err := r.db.GetDeviceFromID(ctx, deviceID)
	if err != nil {
		return nil, storeError(err, "device "+deviceID)
	}
	return device, nil
}

//GetOwned returns the device if it belongs to ownerID
func (r *Registry) GetOwned(ctx context.Context, ownerID, deviceID string) (*models.Device, error) {
	device, err := r.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: device %s belongs to another owner", ErrForbidden, deviceID)
	}
	return device, nil
}

//ListForOwner returns every device of the owner
func (r *Registry) ListForOwner(ctx context.Context, ownerID string) ([]models.Device, error) {
	devices, err := r.db.GetDevicesForOwner(ctx, ownerID)
	if err != nil {
		return nil, storeError(err, "devices")
	}
	return devices, nil
}

//ListAll returns every device in the fleet regardless of owner
func (r *Registry) ListAll(ctx context.Context) ([]models.Device, error) {
	devices, err := r.db.GetDevices(ctx)
	if err != nil {
		return nil, storeError(err, "devices")
	}
	return devices, nil
}

//UpdateLiveness marks the device as seen now and optionally records the reported firmware version
func (r *Registry) UpdateLiveness(ctx context.Context, device *models.Device, firmwareVersion *string) error {
	now := r.now().UTC()
	changes := map[string]interface{}{"last_seen_at": now}

	if firmwareVersion != nil {
		v := strings.TrimSpace(*firmwareVersion)
		if len(v) > 20 {
			return validationError("firmware version must be at most 20 characters")
		}
		changes["firmware_version"] = v
	}

	if err := r.db.UpdateDevice(ctx, device.DeviceID, changes); err != nil {
		return storeError(err, "device "+device.DeviceID)
	}

	device.LastSeenAt = &now
	if v, ok := changes["firmware_version"].(string); ok {
		device.FirmwareVersion = v
	}
	return nil
}

//CheckIn handles the unauthenticated ping path, identifying the device by hardware id only
func (r *Registry) CheckIn(ctx context.Context, hardwareID string, firmwareVersion *string) (*models.Device, error) {
	hardwareID = NormalizeHardwareID(hardwareID)
	if hardwareID == "" {
		return nil, validationError("mac is required")
	}

	device, err := r.db.GetDeviceFromHardwareID(ctx, hardwareID)
	if err != nil {
		return nil, storeError(err, "device "+hardwareID)
	}

	if err := r.UpdateLiveness(ctx, device, firmwareVersion); err != nil {
		return nil, err
	}
	return device, nil
}

//IsOnline reports whether the device has been seen within the registry threshold
func (r *Registry) IsOnline(device *models.Device) bool {
	return IsOnline(device, r.threshold, r.now())
}

//IsOnline reports whether the device was last seen less than threshold before now
func IsOnline(device *models.Device, threshold time.Duration, now time.Time) bool {
	if device == nil || device.LastSeenAt == nil {
		return false
	}
	return now.Sub(*device.LastSeenAt) < threshold
}

//Rename sets a new display name, trimmed and capped to 40 characters
func (r *Registry) Rename(ctx context.Context, ownerID, deviceID, name string) (*models.Device, error) {
	return r.UpdateDetails(ctx, ownerID, deviceID, DeviceDetails{Name: &name})
}

//DeviceDetails carries owner editable descriptive fields. Nil fields are left unchanged.
type DeviceDetails struct {
	Name       *string
	Tag        *string
	ModuleType *string
	Country    *string
	Latitude   *float64
	Longitude  *float64
}

//UpdateDetails validates and applies owner edits
func (r *Registry) UpdateDetails(ctx context.Context, ownerID, deviceID string, d DeviceDetails) (*models.Device, error) {
	device, err := r.GetOwned(ctx, ownerID, deviceID)
	if err != nil {
		return nil, err
	}

	changes := map[string]interface{}{}

	if d.Name != nil {
		name := cleanName(*d.Name)
		if name == "" {
			return nil, validationError("name must not be empty")
		}
		changes["name"] = name
		device.Name = name
	}
	if d.Tag != nil {
		tag := strings.TrimSpace(*d.Tag)
		if utf8.RuneCountInString(tag) > maxTagLength {
			return nil, validationError("tag must be at most %d characters", maxTagLength)
		}
		changes["tag"] = tag
		device.Tag = tag
	}
	if d.ModuleType != nil {
		mt := strings.TrimSpace(*d.ModuleType)
		if mt == "" || utf8.RuneCountInString(mt) > 30 {
			return nil, validationError("module type must be 1..30 characters")
		}
		changes["module_type"] = mt
		device.ModuleType = mt
	}
	if d.Country != nil {
		c := strings.ToUpper(strings.TrimSpace(*d.Country))
		if !reCountry.MatchString(c) {
			return nil, validationError("country must be 2..5 letters")
		}
		changes["country"] = c
		device.Country = c
	}
	if d.Latitude != nil {
		if *d.Latitude < -90 || *d.Latitude > 90 {
			return nil, validationError("latitude must be within -90..90")
		}
		changes["latitude"] = *d.Latitude
		device.Latitude = d.Latitude
	}
	if d.Longitude != nil {
		if *d.Longitude < -180 || *d.Longitude > 180 {
			return nil, validationError("longitude must be within -180..180")
		}
		changes["longitude"] = *d.Longitude
		device.Longitude = d.Longitude
	}

	if err := r.db.UpdateDevice(ctx, deviceID, changes); err != nil {
		return nil, storeError(err, "device "+deviceID)
	}
	return device, nil
}

//AssignContent points the device at a gauge face, or clears the assignment when contentID is nil
func (r *Registry) AssignContent(ctx context.Context, ownerID, deviceID string, contentID *uint) (*models.Device, error) {
	device, err := r.GetOwned(ctx, ownerID, deviceID)
	if err != nil {
		return nil, err
	}

	var value interface{}
	if contentID != nil {
		if _, err := r.db.GetGaugeFaceFromID(ctx, *contentID); err != nil {
			return nil, storeError(err, fmt.Sprintf("gauge face %d", *contentID))
		}
		value = *contentID
	}

	if err := r.db.UpdateDevice(ctx, deviceID, map[string]interface{}{"assigned_content_id": value}); err != nil {
		return nil, storeError(err, "device "+deviceID)
	}

	device.AssignedContentID = contentID
	return device, nil
}

//ResolveContent returns the assigned gauge face, or nil when nothing (or something since deleted) is assigned
func (r *Registry) ResolveContent(ctx context.Context, device *models.Device) (*models.GaugeFace, error) {
	if device.AssignedContentID == nil {
		return nil, nil
	}

	gauge, err := r.db.GetGaugeFaceFromID(ctx, *device.AssignedContentID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, storeError(err, "gauge face")
	}
	return gauge, nil
}

//GetConfig returns the stored display config, or the defaults if none is stored
func (r *Registry) GetConfig(device *models.Device) DisplayConfig {
	cfg, _ := decodeStoredConfig(device.Config)
	return cfg
}

//SetConfig validates a (partial) settings object and stores the merged result
func (r *Registry) SetConfig(ctx context.Context, ownerID, deviceID string, raw []byte) (DisplayConfig, error) {
	cfg, err := ParseDisplayConfig(raw)
	if err != nil {
		return DefaultDisplayConfig(), err
	}
	return r.storeConfig(ctx, ownerID, deviceID, cfg)
}

//ResetConfig stores the default display config
func (r *Registry) ResetConfig(ctx context.Context, ownerID, deviceID string) (DisplayConfig, error) {
	return r.storeConfig(ctx, ownerID, deviceID, DefaultDisplayConfig())
}

func (r *Registry) storeConfig(ctx context.Context, ownerID, deviceID string, cfg DisplayConfig) (DisplayConfig, error) {
	if _, err := r.GetOwned(ctx, ownerID, deviceID); err != nil {
		return DefaultDisplayConfig(), err
	}

	b, err := json.Marshal(cfg)
	if err != nil {
		return DefaultDisplayConfig(), err
	}

	if err := r.db.UpdateDevice(ctx, deviceID, map[string]interface{}{"config": datatypes.JSON(b)}); err != nil {
		return DefaultDisplayConfig(), storeError(err, "device "+deviceID)
	}
	return cfg, nil
}

//RotateToken revokes all tokens of the device and returns a fresh one
func (r *Registry) RotateToken(ctx context.Context, ownerID, deviceID string) (string, error) {
	device, err := r.GetOwned(ctx, ownerID, deviceID)
	if err != nil {
		return "", err
	}

	token, err := r.credentials.Rotate(ctx, device.DeviceID, device.OwnerID)
	if err != nil {
		return "", err
	}

	r.log.WithField("device", device.DeviceID).Infof("rotated token")
	return token, nil
}

//Delete removes the device. Its tokens are revoked in the same transaction.
func (r *Registry) Delete(ctx context.Context, ownerID, deviceID string) error {
	device, err := r.GetOwned(ctx, ownerID, deviceID)
	if err != nil {
		return err
	}

	if err := r.db.DeleteDevice(ctx, deviceID); err != nil {
		return storeError(err, "device "+deviceID)
	}

	r.log.WithField("device", device.DeviceID).Infof("deleted %s", device.HardwareID)
	publish(r.messenger, r.log, &DeviceDeleted{
		DeviceID:   device.DeviceID,
		HardwareID: device.HardwareID,
		OwnerID:    device.OwnerID,
		Timestamp:  r.now().UTC(),
	})
	return nil
}
