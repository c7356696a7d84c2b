package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-chi/chi"
	"github.com/multigauge/device-fleet/internal/pkg/fleet"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/logging"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/repositories/models"

	"github.com/iot-for-tillgenglighet/ngsi-ld-golang/pkg/datamodels/fiware"
	ngsi "github.com/iot-for-tillgenglighet/ngsi-ld-golang/pkg/ngsi-ld"
	ngsitypes "github.com/iot-for-tillgenglighet/ngsi-ld-golang/pkg/ngsi-ld/types"
)

const (
	deviceEntityPrefix      = "urn:ngsi-ld:Device:"
	deviceModelEntityPrefix = "urn:ngsi-ld:DeviceModel:"
	gaugeCategory           = "gauge"
)

var errReadOnlyContextSource = errors.New("the fleet context source is read only")

//addNGSIHandlers exposes the fleet as read only NGSI-LD Device and DeviceModel entities
func (api *fleetAPI) addNGSIHandlers(r chi.Router) {
	contextRegistry := createContextRegistry(api.log, api.registry)

	r.Use(api.requireOwner)
	r.Use(api.requireAdmin)

	r.Get("/entities", ngsi.NewQueryEntitiesHandler(contextRegistry))
	r.Get("/entities/{entity}", ngsi.NewRetrieveEntityHandler(contextRegistry))
}

func createContextRegistry(log logging.Logger, registry *fleet.Registry) ngsi.ContextRegistry {
	contextRegistry := ngsi.NewContextRegistry()
	ctxSource := contextSource{registry: registry, log: log}
	contextRegistry.Register(&ctxSource)
	return contextRegistry
}

type contextSource struct {
	registry *fleet.Registry
	log      logging.Logger
}

func (cs contextSource) ProvidesEntitiesWithMatchingID(entityID string) bool {
	return strings.HasPrefix(entityID, deviceEntityPrefix) || strings.HasPrefix(entityID, deviceModelEntityPrefix)
}

func (cs contextSource) ProvidesAttribute(attributeName string) bool {
	return attributeName == "value"
}

func (cs contextSource) ProvidesType(typeName string) bool {
	return typeName == "Device" || typeName == "DeviceModel"
}

func (cs *contextSource) CreateEntity(typeName, entityID string, req ngsi.Request) error {
	return errReadOnlyContextSource
}

func (cs *contextSource) UpdateEntityAttributes(entityID string, req ngsi.Request) error {
	return errReadOnlyContextSource
}

func (cs *contextSource) GetEntities(query ngsi.Query, callback ngsi.QueryEntitiesCallback) error {
	if query == nil {
		return errors.New("GetEntities: query may not be nil")
	}

	devices, err := cs.registry.ListAll(context.Background())
	if err != nil {
		cs.log.Errorf("unable to list devices for ngsi query: %s", err.Error())
		return err
	}

	for _, typeName := range query.EntityTypes() {
		switch typeName {
		case "Device":
			for i := range devices {
				if err := callback(newFiwareDevice(&devices[i])); err != nil {
					return err
				}
			}
		case "DeviceModel":
			for _, moduleType := range moduleTypes(devices) {
				if err := callback(newFiwareDeviceModel(moduleType)); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func (cs *contextSource) RetrieveEntity(entityID string, req ngsi.Request) (ngsi.Entity, error) {
	if !strings.HasPrefix(entityID, deviceEntityPrefix) {
		return nil, fmt.Errorf("%w: no entity with id %s", fleet.ErrNotFound, entityID)
	}

	device, err := cs.registry.Get(context.Background(), strings.TrimPrefix(entityID, deviceEntityPrefix))
	if err != nil {
		return nil, err
	}

	return newFiwareDevice(device), nil
}

//newFiwareDevice reports the firmware a gauge last announced as the entity value
func newFiwareDevice(device *models.Device) *fiware.Device {
	value := ""
	if device.FirmwareVersion != "" {
		value = "fw=" + device.FirmwareVersion
	}

	fiwareDevice := fiware.NewDevice(device.DeviceID, value)
	fiwareDevice.RefDeviceModel, _ = fiware.NewDeviceModelRelationship(deviceModelEntityPrefix + deviceModelID(device.ModuleType))
	return fiwareDevice
}

func newFiwareDeviceModel(moduleType string) *fiware.DeviceModel {
	deviceModel := fiware.NewDeviceModel(deviceModelID(moduleType), []string{gaugeCategory})
	deviceModel.ModelName = ngsitypes.NewTextProperty(moduleType)
	deviceModel.Name = ngsitypes.NewTextProperty(moduleType)
	return deviceModel
}

func deviceModelID(moduleType string) string {
	if moduleType == "" {
		moduleType = fleet.DefaultModuleType
	}
	return strings.ToLower(moduleType)
}

func moduleTypes(devices []models.Device) []string {
	seen := map[string]bool{}
	found := []string{}
	for _, d := range devices {
		mt := d.ModuleType
		if mt == "" {
			mt = fleet.DefaultModuleType
		}
		if id := deviceModelID(mt); !seen[id] {
			seen[id] = true
			found = append(found, mt)
		}
	}
	sort.Strings(found)
	return found
}
