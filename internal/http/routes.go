package httpx

import (
	"log/slog"
	"net/http"

	"github.com/verity-dq/verity/internal/data"
	domainauth "github.com/verity-dq/verity/internal/domain/auth"
	"github.com/verity-dq/verity/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Auth          *service.AuthService
	Connections   *service.ConnectionService
	Schedules     *service.ScheduleService
	Orchestrator  *service.OrchestratorService
	Validations   *service.ValidationService
	Profiles      *service.ProfileService
	Status        *service.StatusService
	History       *service.HistoryService
	Analytics     *service.AnalyticsService
	SchemaChanges *data.SchemaChangeRepo
	Notifications *data.NotificationRepo
	Logger        *slog.Logger
}

// NewRouter creates and configures the API router. Reads and triggers need a
// user session; mutations of connections, configs, rules, and settings need
// admin.
func NewRouter(services RouterServices) http.Handler {
	if services.Logger == nil {
		services.Logger = slog.Default()
	}

	mux := http.NewServeMux()

	authHandlers := &AuthHandlers{Svc: services.Auth}
	connHandlers := &ConnectionHandlers{Svc: services.Connections}
	validationHandlers := &ValidationHandlers{Svc: services.Validations}
	profileHandlers := &ProfileHandlers{
		Profiles:    services.Profiles,
		History:     services.History,
		Connections: services.Connections,
	}
	automationHandlers := &AutomationHandlers{
		Schedules:    services.Schedules,
		Orchestrator: services.Orchestrator,
		Status:       services.Status,
		History:      services.History,
		Connections:  services.Connections,
	}
	schemaHandlers := &SchemaChangeHandlers{
		Changes:   services.SchemaChanges,
		Analytics: services.Analytics,
	}
	notificationHandlers := &NotificationHandlers{Settings: services.Notifications}

	asUser := RequireAuth(services.Auth)
	asAdmin := RequireRole(services.Auth, domainauth.RoleAdmin)

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	mux.Handle("POST /api/login", http.HandlerFunc(authHandlers.Login))
	mux.Handle("POST /api/logout", asUser(http.HandlerFunc(authHandlers.Logout)))

	registerConnectionRoutes(mux, connHandlers, asUser, asAdmin)
	registerValidationRoutes(mux, validationHandlers, asUser, asAdmin)
	registerProfileRoutes(mux, profileHandlers, asUser)
	registerAutomationRoutes(mux, automationHandlers, asUser, asAdmin)
	registerSchemaRoutes(mux, schemaHandlers, asUser)

	mux.Handle("GET /api/notification-settings", asUser(http.HandlerFunc(notificationHandlers.Get)))
	mux.Handle("PUT /api/notification-settings", asAdmin(http.HandlerFunc(notificationHandlers.Put)))

	return Chain(mux, Recover(services.Logger), Logging(services.Logger))
}

type middleware = func(http.Handler) http.Handler

func registerConnectionRoutes(mux *http.ServeMux, h *ConnectionHandlers, asUser, asAdmin middleware) {
	mux.Handle("GET /api/connections", asUser(http.HandlerFunc(h.List)))
	mux.Handle("POST /api/connections", asAdmin(http.HandlerFunc(h.Create)))
	mux.Handle("POST /api/connections/test", asUser(http.HandlerFunc(h.Test)))
	mux.Handle("GET /api/connections/{id}", asUser(http.HandlerFunc(h.Get)))
	mux.Handle("PUT /api/connections/{id}", asAdmin(http.HandlerFunc(h.Update)))
	mux.Handle("DELETE /api/connections/{id}", asAdmin(http.HandlerFunc(h.Delete)))
	mux.Handle("GET /api/connections/{id}/tables", asUser(http.HandlerFunc(h.Tables)))
	mux.Handle("GET /api/connections/{id}/preview", asUser(http.HandlerFunc(h.Preview)))
}

func registerValidationRoutes(mux *http.ServeMux, h *ValidationHandlers, asUser, asAdmin middleware) {
	mux.Handle("GET /api/validations", asUser(http.HandlerFunc(h.List)))
	mux.Handle("POST /api/validations", asAdmin(http.HandlerFunc(h.Create)))
	mux.Handle("GET /api/validations/{id}", asUser(http.HandlerFunc(h.Get)))
	mux.Handle("PUT /api/validations/{id}", asAdmin(http.HandlerFunc(h.Update)))
	mux.Handle("DELETE /api/validations/{id}", asAdmin(http.HandlerFunc(h.Delete)))
	mux.Handle("GET /api/validations/{id}/results", asUser(http.HandlerFunc(h.Results)))
	mux.Handle("POST /api/run-validations", asUser(http.HandlerFunc(h.Run)))
	mux.Handle("POST /api/generate-default-validations", asAdmin(http.HandlerFunc(h.GenerateDefaults)))
}

func registerProfileRoutes(mux *http.ServeMux, h *ProfileHandlers, asUser middleware) {
	mux.Handle("GET /api/profile", asUser(http.HandlerFunc(h.Run)))
	mux.Handle("GET /api/profile-history", asUser(http.HandlerFunc(h.ListHistory)))
}

func registerAutomationRoutes(mux *http.ServeMux, h *AutomationHandlers, asUser, asAdmin middleware) {
	mux.Handle("GET /api/automation/connection-configs/{id}", asUser(http.HandlerFunc(h.GetConfig)))
	mux.Handle("PUT /api/automation/connection-configs/{id}", asAdmin(http.HandlerFunc(h.PutConfig)))
	mux.Handle("DELETE /api/automation/connection-configs/{id}", asAdmin(http.HandlerFunc(h.DeleteConfig)))
	mux.Handle("POST /api/automation/trigger/{id}", asUser(http.HandlerFunc(h.Trigger)))
	mux.Handle("GET /api/automation/status", asUser(http.HandlerFunc(h.GetStatus)))
	mux.Handle("GET /api/automation/status-enhanced", asUser(http.HandlerFunc(h.GetStatusEnhanced)))
	mux.Handle("GET /api/automation/jobs", asUser(http.HandlerFunc(h.ListJobs)))
	mux.Handle("GET /api/automation/jobs/{id}", asUser(http.HandlerFunc(h.GetJob)))
	mux.Handle("POST /api/automation/jobs/{id}/cancel", asUser(http.HandlerFunc(h.CancelJob)))
	mux.Handle("GET /api/automation/jobs/{id}/runs", asUser(http.HandlerFunc(h.ListRuns)))
	mux.Handle("GET /api/automation/events", asUser(http.HandlerFunc(h.ListEvents)))
}

func registerSchemaRoutes(mux *http.ServeMux, h *SchemaChangeHandlers, asUser middleware) {
	mux.Handle("GET /api/schema-changes", asUser(http.HandlerFunc(h.List)))
	mux.Handle("POST /api/schema-changes/{id}/acknowledge", asUser(http.HandlerFunc(h.Acknowledge)))
	mux.Handle("POST /api/schema-changes/analytics", asUser(http.HandlerFunc(h.Compute)))
	mux.Handle("GET /api/schema-changes/analytics", asUser(http.HandlerFunc(h.Query)))
}
