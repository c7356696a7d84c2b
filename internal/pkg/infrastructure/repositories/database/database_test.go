package database

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/logging"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/repositories/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}

func TestCreateDeviceStoresDeviceAndToken(t *testing.T) {
	db, ctx := newDatabaseForTest(t)

	device := newDevice("AA:BB:CC:DD:EE:01", "alice")
	token := &models.DeviceToken{Token: "tok-1", OwnerID: "alice", IsActive: true}

	require.NoError(t, db.CreateDevice(ctx, device, token))
	assert.Equal(t, device.DeviceID, token.DeviceID)

	stored, err := db.GetDeviceFromHardwareID(ctx, "AA:BB:CC:DD:EE:01")
	require.NoError(t, err)
	assert.Equal(t, device.DeviceID, stored.DeviceID)

	active, err := db.GetActiveToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, device.DeviceID, active.DeviceID)
}

func TestThatCreateDeviceFailsOnDuplicateHardwareID(t *testing.T) {
	db, ctx := newDatabaseForTest(t)

	require.NoError(t, db.CreateDevice(ctx, newDevice("AA:BB:CC:DD:EE:02", "alice"), nil))

	err := db.CreateDevice(ctx, newDevice("AA:BB:CC:DD:EE:02", "bob"), nil)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestGetDeviceFromIDReturnsNotFound(t *testing.T) {
	db, ctx := newDatabaseForTest(t)

	_, err := db.GetDeviceFromID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteDeviceDeactivatesTokens(t *testing.T) {
	db, ctx := newDatabaseForTest(t)

	device := newDevice("AA:BB:CC:DD:EE:03", "alice")
	require.NoError(t, db.CreateDevice(ctx, device, &models.DeviceToken{Token: "tok-3", OwnerID: "alice", IsActive: true}))

	require.NoError(t, db.DeleteDevice(ctx, device.DeviceID))

	_, err := db.GetActiveToken(ctx, "tok-3")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.GetDeviceFromID(ctx, device.DeviceID)
	assert.ErrorIs(t, err, ErrNotFound)

	// the hardware id is free again once the device is gone
	assert.NoError(t, db.CreateDevice(ctx, newDevice("AA:BB:CC:DD:EE:03", "bob"), nil))

	assert.ErrorIs(t, db.DeleteDevice(ctx, device.DeviceID), ErrNotFound)
}

func TestUpdateDeviceReturnsNotFoundForMissingDevice(t *testing.T) {
	db, ctx := newDatabaseForTest(t)

	device := newDevice("AA:BB:CC:DD:EE:04", "alice")
	require.NoError(t, db.CreateDevice(ctx, device, nil))

	require.NoError(t, db.UpdateDevice(ctx, device.DeviceID, map[string]interface{}{"name": "Dash"}))
	// writing the same value again is not a miss
	require.NoError(t, db.UpdateDevice(ctx, device.DeviceID, map[string]interface{}{"name": "Dash"}))

	require.NoError(t, db.DeleteDevice(ctx, device.DeviceID))
	err := db.UpdateDevice(ctx, device.DeviceID, map[string]interface{}{"name": "Gone"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetDevicesSpansAllOwners(t *testing.T) {
	db, ctx := newDatabaseForTest(t)

	require.NoError(t, db.CreateDevice(ctx, newDevice("AA:BB:CC:DD:EE:05", "alice"), nil))
	require.NoError(t, db.CreateDevice(ctx, newDevice("AA:BB:CC:DD:EE:06", "bob"), nil))

	devices, err := db.GetDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "alice", devices[0].OwnerID)
	assert.Equal(t, "bob", devices[1].OwnerID)
}

func TestReplaceTokensLeavesOnlyTheNewTokenActive(t *testing.T) {
	db, ctx := newDatabaseForTest(t)

	device := newDevice("AA:BB:CC:DD:EE:04", "alice")
	require.NoError(t, db.CreateDevice(ctx, device, &models.DeviceToken{Token: "old", OwnerID: "alice", IsActive: true}))

	require.NoError(t, db.ReplaceTokens(ctx, device.DeviceID, &models.DeviceToken{Token: "new", OwnerID: "alice", IsActive: true}))

	_, err := db.GetActiveToken(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	tok, err := db.GetActiveToken(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, device.DeviceID, tok.DeviceID)
}

func TestActivateFirmwareKeepsExactlyOneActive(t *testing.T) {
	db, ctx := newDatabaseForTest(t)

	first := &models.Firmware{Version: "2.0.0", Filename: "firmware_v2.0.0.bin", FileSize: 10}
	second := &models.Firmware{Version: "3.0.0", Filename: "firmware_v3.0.0.bin", FileSize: 10}
	require.NoError(t, db.CreateFirmware(ctx, first))
	require.NoError(t, db.CreateFirmware(ctx, second))

	require.NoError(t, db.ActivateFirmware(ctx, first.ID))
	require.NoError(t, db.ActivateFirmware(ctx, second.ID))
	require.NoError(t, db.ActivateFirmware(ctx, second.ID))

	active, err := db.GetActiveFirmware(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3.0.0", active.Version)

	all, err := db.GetFirmwares(ctx)
	require.NoError(t, err)

	activeCount := 0
	for _, fw := range all {
		if fw.IsActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)
}

func TestActivateUnknownFirmwareChangesNothing(t *testing.T) {
	db, ctx := newDatabaseForTest(t)

	fw := &models.Firmware{Version: "1.0.0", Filename: "firmware_v1.0.0.bin", FileSize: 1}
	require.NoError(t, db.CreateFirmware(ctx, fw))
	require.NoError(t, db.ActivateFirmware(ctx, fw.ID))

	assert.ErrorIs(t, db.ActivateFirmware(ctx, fw.ID+100), ErrNotFound)

	active, err := db.GetActiveFirmware(ctx)
	require.NoError(t, err)
	assert.Equal(t, fw.ID, active.ID)
}

func TestThatCreateFirmwareFailsOnDuplicateVersion(t *testing.T) {
	db, ctx := newDatabaseForTest(t)

	require.NoError(t, db.CreateFirmware(ctx, &models.Firmware{Version: "1.0.0", Filename: "a.bin"}))
	err := db.CreateFirmware(ctx, &models.Firmware{Version: "1.0.0", Filename: "b.bin"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestGaugeFaceLifecycle(t *testing.T) {
	db, ctx := newDatabaseForTest(t)

	gauge := &models.GaugeFace{OwnerID: "alice", Title: "Boost", GaugeType: "round", Data: []byte(`{"needle":"red"}`)}
	require.NoError(t, db.CreateGaugeFace(ctx, gauge))

	gauges, err := db.GetGaugeFacesForOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, gauges, 1)
	assert.Equal(t, "Boost", gauges[0].Title)

	require.NoError(t, db.DeleteGaugeFace(ctx, gauge.ID))
	_, err = db.GetGaugeFaceFromID(ctx, gauge.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func newDevice(hardwareID, owner string) *models.Device {
	return &models.Device{
		DeviceID:   uuid.NewString(),
		HardwareID: hardwareID,
		Name:       "Device " + hardwareID[len(hardwareID)-5:],
		OwnerID:    owner,
	}
}

func newDatabaseForTest(t *testing.T) (Datastore, context.Context) {
	log := logging.NewLogger()
	db, err := NewDatabaseConnection(NewInMemorySQLiteConnector(uuid.NewString()), log)
	require.NoError(t, err)

	return db, context.Background()
}
