package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/semaphore"

	"github.com/hrygo/deskpet/ai/llm"
	"github.com/hrygo/deskpet/ai/metrics"
	"github.com/hrygo/deskpet/internal/profile"
	"github.com/hrygo/deskpet/server/service/chat"
	"github.com/hrygo/deskpet/store"
)

type APIV1Service struct {
	// Domain Services
	ChatService     *ChatService
	SessionService  *SessionService
	BehaviorService *BehaviorService
	PetService      *PetService
	AdminService    *AdminService
	SystemService   *SystemService

	// Shared Infra
	Profile  *profile.Profile
	Store    *store.Store
	Registry *llm.Registry
	Exporter *metrics.PrometheusExporter
}

func NewAPIV1Service(profile *profile.Profile, store *store.Store, registry *llm.Registry, exporter *metrics.PrometheusExporter) *APIV1Service {
	service := &APIV1Service{
		Profile:  profile,
		Store:    store,
		Registry: registry,
		Exporter: exporter,
	}

	service.ChatService = &ChatService{
		Chat: chat.NewService(store, registry, exporter),
		// Each stream holds an upstream connection open; keep a low cap.
		streamSemaphore: semaphore.NewWeighted(8),
	}
	service.SessionService = &SessionService{Store: store}
	service.BehaviorService = &BehaviorService{Store: store}
	service.PetService = &PetService{Store: store}
	service.AdminService = &AdminService{Store: store}
	service.SystemService = &SystemService{Profile: profile, Store: store, Registry: registry}

	return service
}

// RegisterRoutes registers every REST endpoint with the given Echo instance.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo) {
	echoServer.GET("/", s.SystemService.GetServiceInfo)
	echoServer.GET("/health", s.SystemService.GetHealth)
	if s.Exporter != nil {
		echoServer.GET("/metrics", echo.WrapHandler(s.Exporter.GetHandler()))
	}

	// The desktop client runs on a file:// or localhost origin, so the API
	// group is fully CORS-open, matching the rest of the surface.
	apiGroup := echoServer.Group("/api", middleware.CORS())

	apiGroup.POST("/chat/message", s.ChatService.SendMessage)
	apiGroup.POST("/chat/stream", s.ChatService.StreamMessage)

	apiGroup.GET("/session/:user_id/current", s.SessionService.GetCurrentSession)
	apiGroup.POST("/session/:session_id/end", s.SessionService.EndSession)
	apiGroup.GET("/session/:session_id/summary", s.SessionService.GetSessionSummary)

	apiGroup.POST("/behavior", s.BehaviorService.RecordBehavior)
	apiGroup.POST("/behaviors/batch", s.BehaviorService.RecordBehaviorBatch)
	apiGroup.GET("/behavior/analysis/:user_id", s.BehaviorService.GetBehaviorAnalysis)
	apiGroup.GET("/behavior/stats/:user_id", s.BehaviorService.GetBehaviorStats)

	apiGroup.GET("/pet/config", s.PetService.GetPetConfig)

	// Admin endpoints only exist when a token is configured.
	if s.Profile.AdminToken != "" {
		adminGroup := apiGroup.Group("/admin", s.adminTokenMiddleware)
		adminGroup.GET("/pet/config", s.AdminService.GetPetConfig)
		adminGroup.PUT("/pet/config", s.AdminService.UpdatePetConfig)
		adminGroup.POST("/pet/config/reset", s.AdminService.ResetPetConfig)
		adminGroup.GET("/stats", s.AdminService.GetStats)
	}
}

func (s *APIV1Service) adminTokenMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.QueryParam("token") != s.Profile.AdminToken {
			return echo.NewHTTPError(http.StatusForbidden, "无权访问")
		}
		return next(c)
	}
}
