package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/repositories/database"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/repositories/models"
	"gorm.io/datatypes"
)

//ContentStore keeps the gauge faces that devices can be assigned to
type ContentStore struct {
	db database.Datastore
}

func NewContentStore(db database.Datastore) *ContentStore {
	return &ContentStore{db: db}
}

func (c *ContentStore) Create(ctx context.Context, ownerID, title, gaugeType string, data json.RawMessage) (*models.GaugeFace, error) {
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > 100 {
		return nil, validationError("title must be 1..100 characters")
	}
	gaugeType = strings.TrimSpace(gaugeType)
	if utf8.RuneCountInString(gaugeType) > 30 {
		return nil, validationError("gauge type must be at most 30 characters")
	}
	if len(data) > 0 && !json.Valid(data) {
		return nil, validationError("data must be valid JSON")
	}

	gauge := &models.GaugeFace{
		OwnerID:   ownerID,
		Title:     title,
		GaugeType: gaugeType,
		Data:      datatypes.JSON(data),
	}
	if err := c.db.CreateGaugeFace(ctx, gauge); err != nil {
		return nil, storeError(err, "gauge face")
	}
	return gauge, nil
}

func (c *ContentStore) Get(ctx context.Context, id uint) (*models.GaugeFace, error) {
	gauge, err := c.db.GetGaugeFaceFromID(ctx, id)
	if err != nil {
		return nil, storeError(err, fmt.Sprintf("gauge face %d", id))
	}
	return gauge, nil
}

//GetOwned returns the gauge face if it belongs to ownerID
func (c *ContentStore) GetOwned(ctx context.Context, ownerID string, id uint) (*models.GaugeFace, error) {
	gauge, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if gauge.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: gauge face %d belongs to another owner", ErrForbidden, id)
	}
	return gauge, nil
}

func (c *ContentStore) ListForOwner(ctx context.Context, ownerID string) ([]models.GaugeFace, error) {
	gauges, err := c.db.GetGaugeFacesForOwner(ctx, ownerID)
	if err != nil {
		return nil, storeError(err, "gauge faces")
	}
	return gauges, nil
}

//Delete removes an owned gauge face. Devices still pointing at it resolve to no assignment.
func (c *ContentStore) Delete(ctx context.Context, ownerID string, id uint) error {
	if _, err := c.GetOwned(ctx, ownerID, id); err != nil {
		return err
	}
	return storeError(c.db.DeleteGaugeFace(ctx, id), fmt.Sprintf("gauge face %d", id))
}
