package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/iot-for-tillgenglighet/messaging-golang/pkg/messaging"
	"github.com/multigauge/device-fleet/internal/pkg/application"
	"github.com/multigauge/device-fleet/internal/pkg/fleet"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/config"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/filestore"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/logging"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/repositories/database"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/requestlog"
)

func main() {

	cfg, err := config.Load()
	if err != nil {
		logging.NewLogger().Fatalf("Failed to load configuration: %s", err.Error())
	}

	log := logging.NewLoggerWithLevel(cfg.LogLevel)
	log.Infof("Starting up %s ...", cfg.ServiceName)

	connect, err := database.NewConnector(cfg.Database, log)
	if err != nil {
		log.Fatal(err.Error())
	}

	db, err := database.NewDatabaseConnection(connect, log)
	if err != nil {
		log.Fatalf("Failed to connect to the database: %s", err.Error())
	}

	files, err := filestore.NewOsFileStore(cfg.Firmware.Directory)
	if err != nil {
		log.Fatal(err.Error())
	}

	var requests requestlog.Sink = requestlog.NewRingSink(cfg.Requests.Capacity)
	if cfg.Redis.Addr != "" {
		client := requestlog.NewRedisClient(cfg.Redis)
		defer client.Close()

		requests = requestlog.NewRedisSink(client, cfg.Redis.Key, cfg.Requests.Capacity)
		log.Infof("Keeping the device request log in redis at %s", cfg.Redis.Addr)
	}

	var messenger fleet.MessagingContext
	if cfg.Events.Enabled {
		messagingConfig := messaging.LoadConfiguration(cfg.ServiceName)
		messagingContext, err := messaging.Initialize(messagingConfig)
		if err != nil {
			log.Fatalf("Failed to initialize messaging: %s", err.Error())
		}
		defer messagingContext.Close()

		messenger = messagingContext
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.CreateRouterAndStartServing(ctx, cfg, log, messenger, db, files, requests); err != nil {
		log.Errorf("Server stopped with an error: %s", err.Error())
	}
}
