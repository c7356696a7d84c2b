package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/iot-for-tillgenglighet/messaging-golang/pkg/messaging"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/filestore"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/logging"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/repositories/database"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

type testFleet struct {
	ctx         context.Context
	db          database.Datastore
	fs          afero.Fs
	messenger   *msgMock
	credentials *CredentialStore
	registry    *Registry
	catalog     *Catalog
	contents    *ContentStore
}

func newFleetForTest(t *testing.T) *testFleet {
	log := logging.NewLogger()

	db, err := database.NewDatabaseConnection(database.NewInMemorySQLiteConnector(uuid.NewString()), log)
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	files, err := filestore.New(fs, "/firmware")
	require.NoError(t, err)

	m := &msgMock{}
	creds := NewCredentialStore(db)

	return &testFleet{
		ctx:         context.Background(),
		db:          db,
		fs:          fs,
		messenger:   m,
		credentials: creds,
		registry:    NewRegistry(db, creds, m, log, 10*time.Minute),
		catalog:     NewCatalog(db, files, m, log),
		contents:    NewContentStore(db),
	}
}

type msgMock struct {
	PublishCount uint32
	Topics       []string
}

func (m *msgMock) PublishOnTopic(message messaging.TopicMessage) error {
	m.PublishCount++
	m.Topics = append(m.Topics, message.TopicName())
	return nil
}
