package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-fuego/fuego"
	"github.com/go-fuego/fuego/option"
)

// Server registers the control surface routes on a fuego engine.
// It does not listen itself: its handler is mounted on the web server.
type Server struct {
	fuego   *fuego.Server
	deps    *Dependencies
	version string
}

// Dependencies contains all service dependencies.
type Dependencies struct {
	Accounts  AccountsRepository
	Sessions  SessionManager
	Runs      RunController
	Scheduler Scheduler // nil when the interval trigger is disabled
	Stats     StatsRepository
	Messages  MessagesRepository
	Hub       HubBroadcaster

	// used when an account is registered without its own credentials
	DefaultAPIID   int
	DefaultAPIHash string
}

// Config holds API server configuration.
type Config struct {
	Title       string
	Description string
	Version     string
}

// NewServer creates a new Fuego API server.
func NewServer(cfg *Config, deps *Dependencies) *Server {
	s := fuego.NewServer(
		fuego.WithEngineOptions(
			fuego.WithOpenAPIConfig(fuego.OpenAPIConfig{
				PrettyFormatJSON: true,
				SpecURL:          "/openapi.json",
				SwaggerURL:       "/docs",
			}),
		),
	)

	s.OpenAPI.Description().Info.Title = cfg.Title
	s.OpenAPI.Description().Info.Description = cfg.Description
	s.OpenAPI.Description().Info.Version = cfg.Version

	srv := &Server{
		fuego:   s,
		deps:    deps,
		version: cfg.Version,
	}
	if srv.version == "" {
		srv.version = "dev"
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) registerRoutes() {
	fuego.Get(s.fuego, "/health", s.healthCheck,
		option.Summary("Health Check"),
		option.Description("Returns the health status of the API"),
		option.Tags("System"),
	)

	// Accounts API
	accounts := fuego.Group(s.fuego, "/api/v1/accounts",
		option.Tags("Accounts"),
	)

	fuego.Get(accounts, "/", s.listAccounts,
		option.Summary("List Accounts"),
	)
	fuego.Post(accounts, "/", s.createAccount,
		option.Summary("Add Account"),
		option.Description("Registers an account and requests a login code"),
		option.DefaultStatusCode(http.StatusCreated),
	)
	fuego.Get(accounts, "/{id}", s.getAccount,
		option.Summary("Get Account"),
	)
	fuego.Delete(accounts, "/{id}", s.deleteAccount,
		option.Summary("Delete Account"),
		option.Description("Deletes the account, its chat selection and its session artifact"),
	)
	fuego.Post(accounts, "/{id}/connect", s.connectAccount,
		option.Summary("Request Login Code"),
		option.Description("Short-circuits when the stored session is already authorized"),
	)
	fuego.Post(accounts, "/{id}/verify", s.verifyAccount,
		option.Summary("Verify Login Code"),
		option.Description("Completes the login with the code and, for 2FA accounts, the password"),
	)
	fuego.Post(accounts, "/{id}/check-status", s.checkStatus,
		option.Summary("Check Session"),
		option.Description("Reports whether the stored session is authorized and updates the connection state"),
	)
	fuego.Post(accounts, "/{id}/qr", s.startQRLogin,
		option.Summary("Start QR Login"),
		option.Description("Starts a QR login; login URLs are pushed over /ws as auth.qr events"),
		option.DefaultStatusCode(http.StatusAccepted),
	)

	// Chats API
	fuego.Get(accounts, "/{id}/chats", s.listChats,
		option.Summary("List Chats"),
		option.Description("Lists groups, supergroups and channels the account can read"),
		option.Tags("Chats"),
	)
	fuego.Get(accounts, "/{id}/chats/selected", s.listSelectedChats,
		option.Summary("List Selected Chats"),
		option.Tags("Chats"),
	)
	fuego.Put(accounts, "/{id}/chats/selected", s.replaceSelectedChats,
		option.Summary("Select Chats"),
		option.Description("Replaces the chats harvested for this account"),
		option.Tags("Chats"),
	)

	// Parser API
	parser := fuego.Group(s.fuego, "/api/v1/parser",
		option.Tags("Parser"),
	)

	fuego.Post(parser, "/start", s.startParser,
		option.Summary("Start Cycle"),
		option.Description("Starts a harvesting cycle in the background"),
		option.DefaultStatusCode(http.StatusAccepted),
	)
	fuego.Post(parser, "/stop", s.stopParser,
		option.Summary("Stop Cycle"),
		option.Description("Asks the running cycle to stop at its next checkpoint"),
	)
	fuego.Get(parser, "/status", s.parserStatus,
		option.Summary("Cycle Status"),
	)
	fuego.Post(parser, "/schedule/pause", s.pauseSchedule,
		option.Summary("Pause Schedule"),
	)
	fuego.Post(parser, "/schedule/resume", s.resumeSchedule,
		option.Summary("Resume Schedule"),
	)

	// Stats API
	stats := fuego.Group(s.fuego, "/api/v1/stats",
		option.Tags("Analytics"),
	)

	fuego.Get(stats, "/parsing-stats", s.parsingStats,
		option.Summary("Parsing Stats"),
		option.Query("session_id", "Filter by parsing session"),
		option.Query("phone_number", "Filter by account phone number"),
		option.Query("status", "Filter by chat status (success, error, skipped)"),
		option.Query("limit", "Maximum rows (default: 100, max: 1000)"),
	)
	fuego.Get(stats, "/parsing-sessions", s.parsingSessions,
		option.Summary("Parsing Sessions"),
		option.Description("Aggregates per cycle, newest first"),
		option.Query("limit", "Maximum rows (default: 100, max: 1000)"),
	)
	fuego.Get(stats, "/errors", s.parsingErrors,
		option.Summary("Recent Errors"),
		option.Description("Failed and skipped chats, newest first"),
		option.Query("limit", "Maximum rows (default: 100, max: 1000)"),
	)
	fuego.Get(stats, "/messages", s.recentMessages,
		option.Summary("Recent Messages"),
		option.Description("Newest harvested messages"),
		option.Query("session_id", "Filter by parsing session"),
		option.Query("limit", "Maximum rows (default: 100, max: 500)"),
	)
}

// Handler returns the http handler serving the registered routes.
func (s *Server) Handler() http.Handler {
	return s.fuego.Mux
}

// MountDocsOn mounts the OpenAPI documentation routes (/docs, /openapi.json)
// on a Chi router.
func (s *Server) MountDocsOn(r interface {
	Get(pattern string, handlerFn http.HandlerFunc)
}, title, description string) {
	scalarHandler := ScalarHandler("/openapi.json", title, description)
	r.Get("/docs", func(w http.ResponseWriter, req *http.Request) {
		scalarHandler.ServeHTTP(w, req)
	})

	r.Get("/openapi.json", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		spec := s.fuego.OpenAPI.Description()
		if err := json.NewEncoder(w).Encode(spec); err != nil {
			http.Error(w, "Failed to encode OpenAPI spec", http.StatusInternalServerError)
		}
	})
}
