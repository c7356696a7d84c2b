package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/config"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/logging"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/repositories/models"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	//ErrNotFound is returned when a requested row does not exist
	ErrNotFound = errors.New("record not found")
	//ErrAlreadyExists is returned when a unique key would be violated
	ErrAlreadyExists = errors.New("record already exists")
)

//Datastore is an interface that is used to inject the database into different handlers to improve testability
type Datastore interface {
	CreateDevice(ctx context.Context, device *models.Device, token *models.DeviceToken) error
	GetDeviceFromID(ctx context.Context, deviceID string) (*models.Device, error)
	GetDeviceFromHardwareID(ctx context.Context, hardwareID string) (*models.Device, error)
	GetDevicesForOwner(ctx context.Context, ownerID string) ([]models.Device, error)
	GetDevices(ctx context.Context) ([]models.Device, error)
	UpdateDevice(ctx context.Context, deviceID string, changes map[string]interface{}) error
	DeleteDevice(ctx context.Context, deviceID string) error

	CreateToken(ctx context.Context, token *models.DeviceToken) error
	ReplaceTokens(ctx context.Context, deviceID string, token *models.DeviceToken) error
	GetActiveToken(ctx context.Context, token string) (*models.DeviceToken, error)
	DeactivateTokens(ctx context.Context, deviceID string) error

	CreateFirmware(ctx context.Context, fw *models.Firmware) error
	GetFirmwareFromID(ctx context.Context, id uint) (*models.Firmware, error)
	GetFirmwareFromVersion(ctx context.Context, version string) (*models.Firmware, error)
	GetFirmwares(ctx context.Context) ([]models.Firmware, error)
	GetActiveFirmware(ctx context.Context) (*models.Firmware, error)
	ActivateFirmware(ctx context.Context, id uint) error
	DeleteFirmware(ctx context.Context, id uint) error

	CreateGaugeFace(ctx context.Context, gauge *models.GaugeFace) error
	GetGaugeFaceFromID(ctx context.Context, id uint) (*models.GaugeFace, error)
	GetGaugeFacesForOwner(ctx context.Context, ownerID string) ([]models.GaugeFace, error)
	DeleteGaugeFace(ctx context.Context, id uint) error

	Ping(ctx context.Context) error
}

type myDB struct {
	impl *gorm.DB
}

//ConnectorFunc is used to inject a database connection method into NewDatabaseConnection
type ConnectorFunc func() (*gorm.DB, error)

//NewConnector picks a connector based on the configured driver
func NewConnector(cfg config.DatabaseConfig, log logging.Logger) (ConnectorFunc, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgreSQLConnector(cfg, log), nil
	case "mysql":
		return NewMySQLConnector(cfg.DSN), nil
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "device-fleet.db"
		}
		return NewSQLiteConnector(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

//NewPostgreSQLConnector opens a connection to a postgresql database
func NewPostgreSQLConnector(cfg config.DatabaseConfig, log logging.Logger) ConnectorFunc {
	dbURI := cfg.DSN
	if dbURI == "" {
		dbURI = fmt.Sprintf("host=%s user=%s dbname=%s sslmode=%s password=%s", cfg.Host, cfg.User, cfg.Name, cfg.SSLMode, cfg.Password)
	}

	return func() (*gorm.DB, error) {
		var err error
		for attempt := 1; attempt <= 10; attempt++ {
			log.Infof("Connecting to database host %s ...", cfg.Host)
			var db *gorm.DB
			db, err = gorm.Open(postgres.Open(dbURI), &gorm.Config{TranslateError: true})
			if err == nil {
				return db, nil
			}
			log.Errorf("Failed to connect to database (attempt %d): %s", attempt, err)
			time.Sleep(3 * time.Second)
		}
		return nil, err
	}
}

//NewMySQLConnector opens a connection to a mysql/mariadb database.
//Example dsn: user:pass@tcp(127.0.0.1:3306)/fleet?parseTime=true&charset=utf8mb4&loc=UTC
func NewMySQLConnector(dsn string) ConnectorFunc {
	return func() (*gorm.DB, error) {
		return gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
	}
}

//NewSQLiteConnector opens a connection to a sqlite database file
func NewSQLiteConnector(path string) ConnectorFunc {
	return func() (*gorm.DB, error) {
		db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
		})
		if err != nil {
			return nil, err
		}

		db.Exec("PRAGMA foreign_keys = ON")

		// sqlite serializes writers anyway, a single connection avoids "database is locked"
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)

		return db, nil
	}
}

//NewInMemorySQLiteConnector opens a named, process local, in memory sqlite database
func NewInMemorySQLiteConnector(name string) ConnectorFunc {
	return NewSQLiteConnector(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
}

//NewDatabaseConnection initializes a new connection to the database and wraps it in a Datastore
func NewDatabaseConnection(connect ConnectorFunc, log logging.Logger) (Datastore, error) {
	impl, err := connect()
	if err != nil {
		return nil, err
	}

	db := &myDB{
		impl: impl,
	}

	err = db.impl.AutoMigrate(
		&models.Device{},
		&models.DeviceToken{},
		&models.Firmware{},
		&models.GaugeFace{},
	)
	if err != nil {
		log.Errorf("Failed to migrate database: %s", err.Error())
		return nil, err
	}

	return db, nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrAlreadyExists
	default:
		return err
	}
}

func (db *myDB) CreateDevice(ctx context.Context, device *models.Device, token *models.DeviceToken) error {
	return translate(db.impl.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Device{}).Where("hardware_id = ?", device.HardwareID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyExists
		}

		if err := tx.Create(device).Error; err != nil {
			return err
		}

		if token != nil {
			token.DeviceID = device.DeviceID
			if err := tx.Create(token).Error; err != nil {
				return err
			}
		}

		return nil
	}))
}

func (db *myDB) GetDeviceFromID(ctx context.Context, deviceID string) (*models.Device, error) {
	device := &models.Device{}
	err := db.impl.WithContext(ctx).Where("device_id = ?", deviceID).First(device).Error
	if err != nil {
		return nil, translate(err)
	}
	return device, nil
}

func (db *myDB) GetDeviceFromHardwareID(ctx context.Context, hardwareID string) (*models.Device, error) {
	device := &models.Device{}
	err := db.impl.WithContext(ctx).Where("hardware_id = ?", hardwareID).First(device).Error
	if err != nil {
		return nil, translate(err)
	}
	return device, nil
}

func (db *myDB) GetDevicesForOwner(ctx context.Context, ownerID string) ([]models.Device, error) {
	devices := []models.Device{}
	err := db.impl.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id").Find(&devices).Error
	return devices, translate(err)
}

func (db *myDB) GetDevices(ctx context.Context) ([]models.Device, error) {
	devices := []models.Device{}
	err := db.impl.WithContext(ctx).Order("id").Find(&devices).Error
	return devices, translate(err)
}

func (db *myDB) UpdateDevice(ctx context.Context, deviceID string, changes map[string]interface{}) error {
	if len(changes) == 0 {
		return nil
	}
	result := db.impl.WithContext(ctx).Model(&models.Device{}).Where("device_id = ?", deviceID).Updates(changes)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// mysql reports zero affected rows when the values did not change
	var count int64
	err := db.impl.WithContext(ctx).Model(&models.Device{}).Where("device_id = ?", deviceID).Count(&count).Error
	if err != nil {
		return translate(err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *myDB) DeleteDevice(ctx context.Context, deviceID string) error {
	return translate(db.impl.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.DeviceToken{}).Where("device_id = ?", deviceID).Update("is_active", false).Error
		if err != nil {
			return err
		}

		result := tx.Unscoped().Where("device_id = ?", deviceID).Delete(&models.Device{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}

		return nil
	}))
}

func (db *myDB) CreateToken(ctx context.Context, token *models.DeviceToken) error {
	return translate(db.impl.WithContext(ctx).Create(token).Error)
}

func (db *myDB) ReplaceTokens(ctx context.Context, deviceID string, token *models.DeviceToken) error {
	return translate(db.impl.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.DeviceToken{}).Where("device_id = ?", deviceID).Update("is_active", false).Error
		if err != nil {
			return err
		}

		token.DeviceID = deviceID
		return tx.Create(token).Error
	}))
}

func (db *myDB) GetActiveToken(ctx context.Context, token string) (*models.DeviceToken, error) {
	t := &models.DeviceToken{}
	err := db.impl.WithContext(ctx).Where("token = ? AND is_active = ?", token, true).First(t).Error
	if err != nil {
		return nil, translate(err)
	}
	return t, nil
}

func (db *myDB) DeactivateTokens(ctx context.Context, deviceID string) error {
	err := db.impl.WithContext(ctx).Model(&models.DeviceToken{}).Where("device_id = ?", deviceID).Update("is_active", false).Error
	return translate(err)
}

func (db *myDB) CreateFirmware(ctx context.Context, fw *models.Firmware) error {
	return translate(db.impl.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Firmware{}).Where("version = ?", fw.Version).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyExists
		}
		return tx.Create(fw).Error
	}))
}

func (db *myDB) GetFirmwareFromID(ctx context.Context, id uint) (*models.Firmware, error) {
	fw := &models.Firmware{}
	err := db.impl.WithContext(ctx).First(fw, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return fw, nil
}

func (db *myDB) GetFirmwareFromVersion(ctx context.Context, version string) (*models.Firmware, error) {
	fw := &models.Firmware{}
	err := db.impl.WithContext(ctx).Where("version = ?", version).First(fw).Error
	if err != nil {
		return nil, translate(err)
	}
	return fw, nil
}

func (db *myDB) GetFirmwares(ctx context.Context) ([]models.Firmware, error) {
	firmwares := []models.Firmware{}
	err := db.impl.WithContext(ctx).Order("created_at desc").Order("id desc").Find(&firmwares).Error
	return firmwares, translate(err)
}

func (db *myDB) GetActiveFirmware(ctx context.Context) (*models.Firmware, error) {
	fw := &models.Firmware{}
	err := db.impl.WithContext(ctx).Where("is_active = ?", true).Order("updated_at desc").First(fw).Error
	if err != nil {
		return nil, translate(err)
	}
	return fw, nil
}

//ActivateFirmware deactivates every firmware and activates the given one within a single transaction
func (db *myDB) ActivateFirmware(ctx context.Context, id uint) error {
	return translate(db.impl.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		target := &models.Firmware{}
		if err := tx.First(target, id).Error; err != nil {
			return err
		}

		err := tx.Model(&models.Firmware{}).Where("is_active = ? AND id <> ?", true, id).Update("is_active", false).Error
		if err != nil {
			return err
		}

		return tx.Model(&models.Firmware{}).Where("id = ?", id).Update("is_active", true).Error
	}))
}

func (db *myDB) DeleteFirmware(ctx context.Context, id uint) error {
	result := db.impl.WithContext(ctx).Unscoped().Delete(&models.Firmware{}, id)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *myDB) CreateGaugeFace(ctx context.Context, gauge *models.GaugeFace) error {
	return translate(db.impl.WithContext(ctx).Create(gauge).Error)
}

func (db *myDB) GetGaugeFaceFromID(ctx context.Context, id uint) (*models.GaugeFace, error) {
	gauge := &models.GaugeFace{}
	err := db.impl.WithContext(ctx).First(gauge, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return gauge, nil
}

func (db *myDB) GetGaugeFacesForOwner(ctx context.Context, ownerID string) ([]models.GaugeFace, error) {
	gauges := []models.GaugeFace{}
	err := db.impl.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id").Find(&gauges).Error
	return gauges, translate(err)
}

func (db *myDB) DeleteGaugeFace(ctx context.Context, id uint) error {
	result := db.impl.WithContext(ctx).Unscoped().Delete(&models.GaugeFace{}, id)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *myDB) Ping(ctx context.Context) error {
	sqlDB, err := db.impl.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
