package main // Entry point package

import (
	"log" // Logging library

	"github.com/joho/godotenv"    // Load .env files in local development
	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/iliyamo/remote-lab-rental/internal/config"   // Internal config loaders
	"github.com/iliyamo/remote-lab-rental/internal/database" // MySQL connection pool
	"github.com/iliyamo/remote-lab-rental/internal/gate"
	"github.com/iliyamo/remote-lab-rental/internal/handler"
	"github.com/iliyamo/remote-lab-rental/internal/ledger"
	"github.com/iliyamo/remote-lab-rental/internal/queue"
	"github.com/iliyamo/remote-lab-rental/internal/repository"
	"github.com/iliyamo/remote-lab-rental/internal/router" // Internal router setup
	queue_publisher "github.com/iliyamo/remote-lab-rental/internal/service"
	"github.com/iliyamo/remote-lab-rental/internal/session"
	"github.com/iliyamo/remote-lab-rental/internal/verify"
)

func main() {
	// Load a .env file when present.  In production the variables come
	// from the real environment, so a missing file is not an error.
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg := config.Load()                 // Load environment config (fatal on missing vars)
	meter := config.LoadMeteringConfig() // Metering knobs with sane defaults
	rl := config.LoadRateLimitConfig()   // Redis token-bucket settings

	// Open the MySQL pool and fail fast if the database is unreachable.
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Redis is optional: a nil client degrades the projection cache to
	// a permanent miss and disables the rate limiter.
	rdb := config.NewRedisClient()

	// Repositories over the shared pool.
	balances := repository.NewBalanceRepo(db)
	sessions := repository.NewSessionRepo(db)
	servers := repository.NewServerRepo(db)
	projections := repository.NewProjectionRepo(rdb, meter.ProjectionTTL)

	// Domain wiring: ledger over the balance rows, verifier over the
	// session rows, per-user gates fed by the verifier's verdicts.
	led := ledger.New(balances)
	verifier := verify.NewVerifier(sessions, meter.StaleAfter, meter.CreationGrace)
	gates := gate.NewRegistry(verifier, meter.VerifyInitialDelay, meter.VerifyInterval)

	controller := session.NewController(session.Config{
		Sessions:     sessions,
		Servers:      servers,
		Ledger:       led,
		Cache:        projections,
		Notifier:     queue_publisher.AMQPNotifier{}, // fire-and-forget RabbitMQ events
		Access:       gates,                  // start/stop verification with the session
		TickInterval: meter.TickInterval,
	})

	e := echo.New()                     // Create Echo instance
	e.Validator = handler.NewValidator() // Request body validation for bound structs

	// Handlers over the wired domain components.
	sessionH := handler.NewSessionHandler(controller, projections, gates)
	balanceH := handler.NewBalanceHandler(led)
	accessH := handler.NewAccessHandler(servers, gates)
	adminH := handler.NewAdminBalanceHandler(led)

	router.RegisterRoutes(e, accessH) // Health check and public catalogue
	router.RegisterMetering(e, sessionH, balanceH, accessH, cfg.JWTSecret, rl, rdb)
	router.RegisterAdmin(e, adminH, cfg.JWTSecret, cfg.AdminKeyHash)

	// Consume session/balance events into logs/notifications.log.  The
	// consumer reconnects on its own; a dead broker only logs.
	go func() {
		if err := queue.StartNotificationConsumer(); err != nil {
			log.Printf("notification consumer stopped: %v", err)
		}
	}()

	addr := ":" + cfg.Port                                // Address string with port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env) // Print startup info

	if err := e.Start(addr); err != nil { // Start HTTP server
		log.Fatal(err) // Log and exit if server fails
	}
}
