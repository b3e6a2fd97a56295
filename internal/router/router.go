package router

import (
	"database/sql"
	"net/http"
	"time"

	dirmem "medical-records-access/internal/adapters/directory/memory"
	mem "medical-records-access/internal/adapters/storage/memory"
	pg "medical-records-access/internal/adapters/storage/postgres"
	"medical-records-access/internal/domain/access"
	"medical-records-access/internal/domain/directory"
	"medical-records-access/internal/fanout"
	"medical-records-access/internal/middleware"
	"medical-records-access/internal/platform/logger"
	"medical-records-access/internal/ports/auth"
	dirport "medical-records-access/internal/ports/directory"
	"medical-records-access/internal/ports/records"
	"medical-records-access/internal/proof"

	_ "medical-records-access/docs"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Options struct {
	AuthVerifier auth.AuthVerifier // puede ser nil (modo dev)

	// Opcional: si viene, usa Postgres. Si no, in-memory.
	DB *sql.DB

	// Repository pisa DB (tests que simulan un ledger caído).
	Repository access.Repository

	// Directory nil => directorio in-memory con DevSeed.
	Directory dirport.Lookup

	// Records nil en modo dev (sin DB ni Repository) => índice in-memory
	// DevRecords. Con ledger real y sin Records no se chequea existencia.
	Records records.Checker

	// Hub nil => se crea uno. Los sinks (proof, relays) los registra el caller.
	Hub   *fanout.Hub
	Proof *proof.Chain

	Logger logger.Logger

	GrantTTL          time.Duration
	ReadTimeout       time.Duration
	DirectoryCacheTTL time.Duration

	EnableWebsocket bool
}

func NewRouter(opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Recover(log))

	r.Use(middleware.AuthContext(opts.AuthVerifier))
	r.Use(middleware.RequestLog(log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	var repo access.Repository
	switch {
	case opts.Repository != nil:
		repo = opts.Repository
	case opts.DB != nil:
		repo = pg.NewAccessRepo(opts.DB)
	default:
		repo = mem.NewAccessRepo()
	}

	lookup := opts.Directory
	if lookup == nil {
		lookup = dirmem.NewLookup(dirmem.DevSeed()...)
	}

	checker := opts.Records
	if checker == nil && opts.DB == nil && opts.Repository == nil {
		checker = mem.DevRecords()
	}

	hub := opts.Hub
	if hub == nil {
		hub = fanout.NewHub(fanout.HubOptions{Logger: log})
	}

	// Services por módulo
	dirSvc := directory.NewService(lookup, opts.DirectoryCacheTTL, log)
	accessSvc := access.NewService(repo, access.Options{
		Publisher: hub,
		Records:   checker,
		Logger:    log,
		GrantTTL:  opts.GrantTTL,
	})
	reader := access.NewResilientReader(accessSvc, opts.ReadTimeout, log)

	// Rutas por módulo
	access.RegisterRoutes(r, accessSvc, reader, dirSvc)
	directory.RegisterRoutes(r, dirSvc)

	if opts.Proof != nil {
		proof.RegisterRoutes(r, opts.Proof)
	}
	if opts.EnableWebsocket {
		r.Get("/ws", fanout.WSHandler(hub, log))
	}

	return r
}
