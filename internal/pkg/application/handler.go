package application

import (
	"compress/flate"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/multigauge/device-fleet/internal/pkg/fleet"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/config"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/filestore"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/logging"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/repositories/database"
	"github.com/multigauge/device-fleet/internal/pkg/infrastructure/requestlog"

	"github.com/rs/cors"
)

//RequestRouter wraps the chi mux that serves the device, management, admin and NGSI-LD APIs
type RequestRouter struct {
	impl *chi.Mux
}

//ServeHTTP lets the router be used directly as an http.Handler
func (router *RequestRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	router.impl.ServeHTTP(w, r)
}

func newRequestRouter(allowedOrigins []string) *RequestRouter {
	router := &RequestRouter{impl: chi.NewRouter()}

	router.impl.Use(middleware.RequestID)
	router.impl.Use(middleware.Recoverer)

	router.impl.Use(cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		Debug:            false,
	}).Handler)

	// Firmware images are served as application/octet-stream and are left alone
	compressor := middleware.NewCompressor(flate.DefaultCompression, "application/json", "application/ld+json")
	router.impl.Use(compressor.Handler)
	router.impl.Use(middleware.Logger)

	return router
}

//fleetAPI carries the services that the HTTP handlers dispatch to
type fleetAPI struct {
	cfg         *config.Config
	log         logging.Logger
	db          database.Datastore
	credentials *fleet.CredentialStore
	registry    *fleet.Registry
	catalog     *fleet.Catalog
	contents    *fleet.ContentStore
	requests    requestlog.Sink
}

func newFleetAPI(cfg *config.Config, log logging.Logger, messenger fleet.MessagingContext, db database.Datastore, files filestore.FileStore, requests requestlog.Sink) *fleetAPI {
	credentials := fleet.NewCredentialStore(db)

	return &fleetAPI{
		cfg:         cfg,
		log:         log,
		db:          db,
		credentials: credentials,
		registry:    fleet.NewRegistry(db, credentials, messenger, log, cfg.Devices.OnlineThreshold),
		catalog:     fleet.NewCatalog(db, files, messenger, log),
		contents:    fleet.NewContentStore(db),
		requests:    requests,
	}
}

func createRequestRouter(api *fleetAPI) *RequestRouter {
	router := newRequestRouter(api.cfg.CORSAllow)

	router.impl.Get("/healthz", api.healthz)

	router.impl.Route("/api/v1", func(r chi.Router) {
		r.Group(api.addDeviceHandlers)
		r.Route("/manage", api.addManagementHandlers)
		r.Route("/admin", api.addAdminHandlers)
	})

	router.impl.Route("/ngsi-ld/v1", api.addNGSIHandlers)

	return router
}

func (api *fleetAPI) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := api.db.Ping(ctx); err != nil {
		api.log.Errorf("health check failed: %s", err.Error())
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

//CreateRouterAndStartServing sets up the fleet router and serves incoming requests until ctx is cancelled
func CreateRouterAndStartServing(ctx context.Context, cfg *config.Config, log logging.Logger, messenger fleet.MessagingContext, db database.Datastore, files filestore.FileStore, requests requestlog.Sink) error {
	api := newFleetAPI(cfg, log, messenger, db, files, requests)
	router := createRequestRouter(api)

	server := &http.Server{
		Addr:              ":" + cfg.ServicePort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Infof("Starting %s on port %s.", cfg.ServiceName, cfg.ServicePort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err, ok := <-errs:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Infof("Shutting down %s ...", cfg.ServiceName)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return server.Shutdown(shutdownCtx)
}
