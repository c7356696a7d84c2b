package fleet

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/repositories/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterNormalisesHardwareIDAndDerivesName(t *testing.T) {
	f := newFleetForTest(t)

	device, token, err := f.registry.Register(f.ctx, " aa:bb:cc:dd:ee:ff ", "", "alice")
	require.NoError(t, err)

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", device.HardwareID)
	assert.Equal(t, "Device EE:FF", device.Name)
	assert.Equal(t, "alice", device.OwnerID)
	assert.Len(t, token, 64)
	assert.Equal(t, []string{"fleet.device.registered"}, f.messenger.Topics)
}

func TestDefaultDeviceNameUsesTheLastFiveCharacters(t *testing.T) {
	assert.Equal(t, "Device EE:FF", DefaultDeviceName("AA:BB:CC:DD:EE:FF"))
	assert.Equal(t, "Device AB", DefaultDeviceName("AB"))

	name := DefaultDeviceName("GAUGE-ÅÄÖ-ÉÈ")
	assert.True(t, utf8.ValidString(name))
	assert.Equal(t, "Device ÄÖ-ÉÈ", name)
}

func TestLivenessForADeletedDeviceIsNotFound(t *testing.T) {
	f := newFleetForTest(t)

	device, _, err := f.registry.Register(f.ctx, "AA:BB:CC:DD:EE:0A", "", "alice")
	require.NoError(t, err)
	require.NoError(t, f.registry.Delete(f.ctx, "alice", device.DeviceID))

	assert.ErrorIs(t, f.registry.UpdateLiveness(f.ctx, device, nil), ErrNotFound)
}

func TestRegisterConflictsRegardlessOfCase(t *testing.T) {
	f := newFleetForTest(t)

	_, _, err := f.registry.Register(f.ctx, "AA:BB:CC:DD:EE:01", "first", "alice")
	require.NoError(t, err)

	_, _, err = f.registry.Register(f.ctx, "aa:bb:cc:dd:ee:01", "second", "bob")
	assert.ErrorIs(t, err, ErrConflict)

	devices, err := f.registry.ListForOwner(f.ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestRegisterValidatesInput(t *testing.T) {
	f := newFleetForTest(t)

	_, _, err := f.registry.Register(f.ctx, "   ", "", "alice")
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = f.registry.Register(f.ctx, strings.Repeat("A", 51), "", "alice")
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = f.registry.Register(f.ctx, "AA:BB", "", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRegisterCapsLongNames(t *testing.T) {
	f := newFleetForTest(t)

	device, _, err := f.registry.Register(f.ctx, "AA:BB:CC:DD:EE:02", strings.Repeat("x", 60), "alice")
	require.NoError(t, err)
	assert.Len(t, device.Name, 40)
}

func TestOwnershipIsEnforced(t *testing.T) {
	f := newFleetForTest(t)

	device, _, err := f.registry.Register(f.ctx, "AA:BB:CC:DD:EE:03", "", "alice")
	require.NoError(t, err)

	_, err = f.registry.GetOwned(f.ctx, "bob", device.DeviceID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.registry.Rename(f.ctx, "bob", device.DeviceID, "mine now")
	assert.ErrorIs(t, err, ErrForbidden)

	assert.ErrorIs(t, f.registry.Delete(f.ctx, "bob", device.DeviceID), ErrForbidden)

	_, err = f.registry.GetOwned(f.ctx, "alice", "no-such-device")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteInvalidatesTokensAndFreesHardwareID(t *testing.T) {
	f := newFleetForTest(t)

	device, token, err := f.registry.Register(f.ctx, "AA:BB:CC:DD:EE:04", "", "alice")
	require.NoError(t, err)

	require.NoError(t, f.registry.Delete(f.ctx, "alice", device.DeviceID))

	_, err = f.credentials.Validate(f.ctx, token)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.registry.Get(f.ctx, device.DeviceID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = f.registry.Register(f.ctx, "AA:BB:CC:DD:EE:04", "", "bob")
	assert.NoError(t, err)

	assert.Contains(t, f.messenger.Topics, "fleet.device.deleted")
}

func TestRenameValidation(t *testing.T) {
	f := newFleetForTest(t)

	device, _, err := f.registry.Register(f.ctx, "AA:BB:CC:DD:EE:05", "", "alice")
	require.NoError(t, err)

	renamed, err := f.registry.Rename(f.ctx, "alice", device.DeviceID, "  Dash  ")
	require.NoError(t, err)
	assert.Equal(t, "Dash", renamed.Name)

	_, err = f.registry.Rename(f.ctx, "alice", device.DeviceID, "   ")
	assert.ErrorIs(t, err, ErrValidation)

	stored, err := f.registry.Get(f.ctx, device.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, "Dash", stored.Name)
}

func TestUpdateDetailsValidatesRanges(t *testing.T) {
	f := newFleetForTest(t)

	device, _, err := f.registry.Register(f.ctx, "AA:BB:CC:DD:EE:06", "", "alice")
	require.NoError(t, err)

	country := "se"
	lat, long := 59.33, 18.06
	updated, err := f.registry.UpdateDetails(f.ctx, "alice", device.DeviceID, DeviceDetails{Country: &country, Latitude: &lat, Longitude: &long})
	require.NoError(t, err)
	assert.Equal(t, "SE", updated.Country)

	badLat := 91.0
	_, err = f.registry.UpdateDetails(f.ctx, "alice", device.DeviceID, DeviceDetails{Latitude: &badLat})
	assert.ErrorIs(t, err, ErrValidation)

	badCountry := "S3"
	_, err = f.registry.UpdateDetails(f.ctx, "alice", device.DeviceID, DeviceDetails{Country: &badCountry})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetConfigReturnsDefaultsUntilSet(t *testing.T) {
	f := newFleetForTest(t)

	device, _, err := f.registry.Register(f.ctx, "AA:BB:CC:DD:EE:07", "", "alice")
	require.NoError(t, err)
	assert.Equal(t, DefaultDisplayConfig(), f.registry.GetConfig(device))

	cfg, err := f.registry.SetConfig(f.ctx, "alice", device.DeviceID, []byte(`{"brightness": 10}`))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Brightness)

	stored, err := f.registry.Get(f.ctx, device.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, 10, f.registry.GetConfig(stored).Brightness)

	_, err = f.registry.SetConfig(f.ctx, "alice", device.DeviceID, []byte(`{"brightness": 500}`))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.registry.ResetConfig(f.ctx, "alice", device.DeviceID)
	require.NoError(t, err)

	stored, err = f.registry.Get(f.ctx, device.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, DefaultDisplayConfig(), f.registry.GetConfig(stored))
}

func TestUpdateLivenessRecordsFirmwareVersion(t *testing.T) {
	f := newFleetForTest(t)

	device, _, err := f.registry.Register(f.ctx, "AA:BB:CC:DD:EE:08", "", "alice")
	require.NoError(t, err)

	version := "1.4.2"
	require.NoError(t, f.registry.UpdateLiveness(f.ctx, device, &version))

	stored, err := f.registry.Get(f.ctx, device.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, "1.4.2", stored.FirmwareVersion)
	assert.NotNil(t, stored.LastSeenAt)

	tooLong := strings.Repeat("9", 21)
	assert.ErrorIs(t, f.registry.UpdateLiveness(f.ctx, device, &tooLong), ErrValidation)
}

func TestCheckInFindsDeviceByHardwareID(t *testing.T) {
	f := newFleetForTest(t)

	device, _, err := f.registry.Register(f.ctx, "AA:BB:CC:DD:EE:09", "", "alice")
	require.NoError(t, err)

	checked, err := f.registry.CheckIn(f.ctx, "aa:bb:cc:dd:ee:09", nil)
	require.NoError(t, err)
	assert.Equal(t, device.DeviceID, checked.DeviceID)

	_, err = f.registry.CheckIn(f.ctx, "00:00:00:00:00:00", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIsOnline(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-9 * time.Minute)
	stale := now.Add(-10 * time.Minute)

	assert.False(t, IsOnline(&models.Device{}, 10*time.Minute, now))
	assert.True(t, IsOnline(&models.Device{LastSeenAt: &recent}, 10*time.Minute, now))
	assert.False(t, IsOnline(&models.Device{LastSeenAt: &stale}, 10*time.Minute, now))
	assert.False(t, IsOnline(nil, 10*time.Minute, now))
}

func TestAssignContentAndResolve(t *testing.T) {
	f := newFleetForTest(t)

	device, _, err := f.registry.Register(f.ctx, "AA:BB:CC:DD:EE:10", "", "alice")
	require.NoError(t, err)

	gauge, err := f.contents.Create(f.ctx, "alice", "Boost", "round", []byte(`{"max": 2.0}`))
	require.NoError(t, err)

	missing := gauge.ID + 100
	_, err = f.registry.AssignContent(f.ctx, "alice", device.DeviceID, &missing)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.registry.AssignContent(f.ctx, "alice", device.DeviceID, &gauge.ID)
	require.NoError(t, err)

	stored, err := f.registry.Get(f.ctx, device.DeviceID)
	require.NoError(t, err)
	resolved, err := f.registry.ResolveContent(f.ctx, stored)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "Boost", resolved.Title)

	// a deleted gauge face resolves to nothing rather than an error
	require.NoError(t, f.contents.Delete(f.ctx, "alice", gauge.ID))
	resolved, err = f.registry.ResolveContent(f.ctx, stored)
	require.NoError(t, err)
	assert.Nil(t, resolved)

	_, err = f.registry.AssignContent(f.ctx, "alice", device.DeviceID, nil)
	require.NoError(t, err)
	stored, err = f.registry.Get(f.ctx, device.DeviceID)
	require.NoError(t, err)
	assert.Nil(t, stored.AssignedContentID)
}
