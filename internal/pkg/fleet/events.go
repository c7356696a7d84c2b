package fleet

import (
	"time"

	"github.com/iot-for-tillgenglighet/messaging-golang/pkg/messaging"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/logging"
)

//MessagingContext is an interface that allows mocking of messaging.Context parameters
type MessagingContext interface {
	PublishOnTopic(message messaging.TopicMessage) error
}

//DeviceRegistered is published after a device and its first token have been stored
type DeviceRegistered struct {
	DeviceID   string    `json:"deviceId"`
	HardwareID string    `json:"hardwareId"`
	OwnerID    string    `json:"ownerId"`
	Timestamp  time.Time `json:"timestamp"`
}

func (m *DeviceRegistered) ContentType() string { return "application/json" }
func (m *DeviceRegistered) TopicName() string   { return "fleet.device.registered" }

//DeviceDeleted is published after a device has been removed and its tokens revoked
type DeviceDeleted struct {
	DeviceID   string    `json:"deviceId"`
	HardwareID string    `json:"hardwareId"`
	OwnerID    string    `json:"ownerId"`
	Timestamp  time.Time `json:"timestamp"`
}

func (m *DeviceDeleted) ContentType() string { return "application/json" }
func (m *DeviceDeleted) TopicName() string   { return "fleet.device.deleted" }

//FirmwareChanged is published when a firmware image is uploaded, activated or deleted
type FirmwareChanged struct {
	Change    string    `json:"change"`
	Version   string    `json:"version"`
	Checksum  string    `json:"checksum,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *FirmwareChanged) ContentType() string { return "application/json" }
func (m *FirmwareChanged) TopicName() string   { return "fleet.firmware." + m.Change }

//publish never fails the calling operation, the stored state is authoritative
func publish(messenger MessagingContext, log logging.Logger, message messaging.TopicMessage) {
	if messenger == nil {
		return
	}
	if err := messenger.PublishOnTopic(message); err != nil {
		log.Warnf("failed to publish %s: %s", message.TopicName(), err.Error())
	}
}
