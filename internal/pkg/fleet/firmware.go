package fleet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/filestore"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/logging"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/repositories/database"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/repositories/models"
	"github.com/spf13/afero"
)

//FirmwareExtension is the only accepted image type
const FirmwareExtension = ".bin"

//DownloadPath is where devices fetch the active image
const DownloadPath = "/api/v1/firmware/download"

var reVersion = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z._-]{0,19}$`)

//Catalog keeps firmware metadata in the datastore and the images in a file store
type Catalog struct {
	db        database.Datastore
	files     filestore.FileStore
	messenger MessagingContext
	log       logging.Logger
	now       func() time.Time

	// activation must never interleave with another activation
	activateMu sync.Mutex
}

func NewCatalog(db database.Datastore, files filestore.FileStore, messenger MessagingContext, log logging.Logger) *Catalog {
	return &Catalog{
		db:        db,
		files:     files,
		messenger: messenger,
		log:       log,
		now:       time.Now,
	}
}

//FirmwareFilename returns the on-disk name of the image for a version
func FirmwareFilename(version string) string {
	return fmt.Sprintf("firmware_v%s%s", version, FirmwareExtension)
}

//Upload is what an administrator sends when publishing a new image
type Upload struct {
	Version    string
	Notes      string
	Filename   string
	UploadedBy string
	Content    io.Reader
}

//Upload stores the image and its metadata. The checksum and size are computed while streaming.
func (c *Catalog) Upload(ctx context.Context, up Upload) (*models.Firmware, error) {
	version := strings.TrimSpace(up.Version)
	if version == "" {
		return nil, validationError("version is required")
	}
	if !reVersion.MatchString(version) {
		return nil, validationError("version may only contain letters, digits, '.', '_' and '-' (max 20)")
	}
	if !strings.EqualFold(filepath.Ext(up.Filename), FirmwareExtension) {
		return nil, validationError("firmware file must have the %s extension", FirmwareExtension)
	}
	if up.Content == nil {
		return nil, validationError("firmware file is required")
	}

	_, err := c.db.GetFirmwareFromVersion(ctx, version)
	if err == nil {
		return nil, fmt.Errorf("%w: firmware version %s already exists", ErrConflict, version)
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, storeError(err, "firmware "+version)
	}

	// stage under a name no other upload can use, the final name is only claimed once the row is committed
	staged := FirmwareFilename(version) + "." + uuid.NewString() + ".part"

	stored, err := c.files.Save(staged, up.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to store firmware %s: %w", version, err)
	}
	if stored.Size == 0 {
		c.removeFile(staged)
		return nil, validationError("firmware file is empty")
	}

	fw := &models.Firmware{
		Version:    version,
		Filename:   FirmwareFilename(version),
		FileSize:   stored.Size,
		Checksum:   stored.Checksum,
		Notes:      strings.TrimSpace(up.Notes),
		UploadedBy: up.UploadedBy,
	}

	if err := c.db.CreateFirmware(ctx, fw); err != nil {
		c.removeFile(staged)
		return nil, storeError(err, "firmware "+version)
	}

	if err := c.files.Rename(staged, fw.Filename); err != nil {
		c.removeFile(staged)
		if delErr := c.db.DeleteFirmware(ctx, fw.ID); delErr != nil {
			c.log.Errorf("failed to roll back firmware %s: %s", version, delErr.Error())
		}
		return nil, fmt.Errorf("failed to store firmware %s: %w", version, err)
	}

	c.log.WithField("firmware", fw.Version).Infof("uploaded %d bytes, sha256 %s", fw.FileSize, fw.Checksum)
	publish(c.messenger, c.log, &FirmwareChanged{Change: "uploaded", Version: fw.Version, Checksum: fw.Checksum, Timestamp: c.now().UTC()})

	return fw, nil
}

//Activate makes the firmware the single image offered to devices
func (c *Catalog) Activate(ctx context.Context, id uint) (*models.Firmware, error) {
	c.activateMu.Lock()
	defer c.activateMu.Unlock()

	if err := c.db.ActivateFirmware(ctx, id); err != nil {
		return nil, storeError(err, fmt.Sprintf("firmware %d", id))
	}

	fw, err := c.db.GetFirmwareFromID(ctx, id)
	if err != nil {
		return nil, storeError(err, fmt.Sprintf("firmware %d", id))
	}

	c.log.WithField("firmware", fw.Version).Infof("activated")
	publish(c.messenger, c.log, &FirmwareChanged{Change: "activated", Version: fw.Version, Checksum: fw.Checksum, Timestamp: c.now().UTC()})

	return fw, nil
}

//GetActive returns the active firmware, or nil if none has been activated
func (c *Catalog) GetActive(ctx context.Context) (*models.Firmware, error) {
	fw, err := c.db.GetActiveFirmware(ctx)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, storeError(err, "active firmware")
	}
	return fw, nil
}

//List returns all firmware images, newest first
func (c *Catalog) List(ctx context.Context) ([]models.Firmware, error) {
	firmwares, err := c.db.GetFirmwares(ctx)
	if err != nil {
		return nil, storeError(err, "firmwares")
	}
	return firmwares, nil
}

//Delete removes the catalog row and then the image file. A missing file is not an error.
func (c *Catalog) Delete(ctx context.Context, id uint) error {
	fw, err := c.db.GetFirmwareFromID(ctx, id)
	if err != nil {
		return storeError(err, fmt.Sprintf("firmware %d", id))
	}

	if err := c.db.DeleteFirmware(ctx, id); err != nil {
		return storeError(err, fmt.Sprintf("firmware %d", id))
	}

	c.removeFile(fw.Filename)

	c.log.Infof("deleted firmware %s", fw.Version)
	publish(c.messenger, c.log, &FirmwareChanged{Change: "deleted", Version: fw.Version, Timestamp: c.now().UTC()})

	return nil
}

func (c *Catalog) removeFile(name string) {
	err := c.files.Remove(name)
	switch {
	case err == nil:
	case errors.Is(err, filestore.ErrFileNotFound):
		c.log.Warnf("firmware file %s was already gone", name)
	default:
		c.log.Errorf("failed to remove firmware file %s: %s", name, err.Error())
	}
}

//UpdateCheck is the answer to a device asking whether it should upgrade
type UpdateCheck struct {
	UpdateAvailable bool
	Version         string
	Firmware        *models.Firmware
}

//CheckForUpdate compares the device version against the active firmware
func (c *Catalog) CheckForUpdate(ctx context.Context, currentVersion string) (UpdateCheck, error) {
	if currentVersion == "" {
		currentVersion = "0.0.0"
	}

	active, err := c.GetActive(ctx)
	if err != nil {
		return UpdateCheck{}, err
	}

	if active == nil || CompareVersions(active.Version, currentVersion) <= 0 {
		return UpdateCheck{UpdateAvailable: false, Version: currentVersion}, nil
	}

	return UpdateCheck{UpdateAvailable: true, Version: active.Version, Firmware: active}, nil
}

//OpenActive returns the active firmware and a reader over its image. Callers must close the file.
func (c *Catalog) OpenActive(ctx context.Context) (*models.Firmware, afero.File, error) {
	active, err := c.GetActive(ctx)
	if err != nil {
		return nil, nil, err
	}
	if active == nil {
		return nil, nil, fmt.Errorf("%w: no active firmware", ErrNotFound)
	}

	f, _, err := c.files.Open(active.Filename)
	if err != nil {
		if errors.Is(err, filestore.ErrFileNotFound) {
			return nil, nil, fmt.Errorf("%w: firmware file for %s", ErrNotFound, active.Version)
		}
		return nil, nil, fmt.Errorf("failed to open firmware %s: %w", active.Version, err)
	}

	return active, f, nil
}
