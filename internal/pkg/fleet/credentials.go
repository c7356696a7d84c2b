package fleet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/repositories/database"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/repositories/models"
)

//tokenBytes gives 256 bits of entropy, 64 hex characters on the wire
const tokenBytes = 32

//CredentialStore issues, validates and revokes device bearer tokens
type CredentialStore struct {
	db  database.Datastore
	now func() time.Time
}

//NewCredentialStore creates a credential store on top of the datastore
func NewCredentialStore(db database.Datastore) *CredentialStore {
	return &CredentialStore{db: db, now: time.Now}
}

//NewToken generates a fresh random token string
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (c *CredentialStore) mint(ownerID string) (*models.DeviceToken, error) {
	secret, err := NewToken()
	if err != nil {
		return nil, err
	}
	return &models.DeviceToken{Token: secret, OwnerID: ownerID, IsActive: true}, nil
}

//Validate resolves an active token to its device and records the call as device liveness
func (c *CredentialStore) Validate(ctx context.Context, token string) (*models.Device, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	t, err := c.db.GetActiveToken(ctx, token)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid or revoked token", ErrUnauthorized)
		}
		return nil, storeError(err, "token lookup")
	}

	device, err := c.db.GetDeviceFromID(ctx, t.DeviceID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid or revoked token", ErrUnauthorized)
		}
		return nil, storeError(err, "device lookup")
	}

	if device.OwnerID != t.OwnerID {
		return nil, fmt.Errorf("%w: token owner does not match device owner", ErrUnauthorized)
	}

	now := c.now().UTC()
	if err := c.db.UpdateDevice(ctx, device.DeviceID, map[string]interface{}{"last_seen_at": now}); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: device was removed", ErrUnauthorized)
		}
		return nil, storeError(err, "liveness update")
	}
	device.LastSeenAt = &now

	return device, nil
}

//Issue creates a new active token for the device and returns its plaintext.
//The plaintext is not retrievable afterwards.
func (c *CredentialStore) Issue(ctx context.Context, deviceID, ownerID string) (string, error) {
	t, err := c.mint(ownerID)
	if err != nil {
		return "", err
	}
	t.DeviceID = deviceID

	if err := c.db.CreateToken(ctx, t); err != nil {
		return "", storeError(err, "token")
	}
	return t.Token, nil
}

//Rotate revokes every token of the device and issues a replacement in one transaction
func (c *CredentialStore) Rotate(ctx context.Context, deviceID, ownerID string) (string, error) {
	t, err := c.mint(ownerID)
	if err != nil {
		return "", err
	}

	if err := c.db.ReplaceTokens(ctx, deviceID, t); err != nil {
		return "", storeError(err, "token")
	}
	return t.Token, nil
}

//RevokeAll marks every token of the device inactive
func (c *CredentialStore) RevokeAll(ctx context.Context, deviceID string) error {
	return storeError(c.db.DeactivateTokens(ctx, deviceID), "token revocation")
}
