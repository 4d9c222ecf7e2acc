package router

import (
	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	apiHandler "github.com/fastygo/taskledger/api/handler"
)

type Handlers struct {
	Task         *apiHandler.TaskHandler
	Evidence     *apiHandler.EvidenceHandler
	Ledger       *apiHandler.LedgerHandler
	Notification *apiHandler.NotificationHandler
	Sync         *apiHandler.SyncHandler
	Health       *apiHandler.HealthHandler
}

// New registers every route. A nil registry leaves /metrics unmounted.
func New(handlers Handlers, authMiddleware func(fasthttp.RequestHandler) fasthttp.RequestHandler, registry *prometheus.Registry) *router.Router {
	r := router.New()

	r.GET("/health", handlers.Health.Check)
	if registry != nil {
		r.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	// Tasks
	r.GET("/api/v1/tasks", authMiddleware(handlers.Task.ListTasks))
	r.POST("/api/v1/tasks", authMiddleware(handlers.Task.CreateTask))
	r.GET("/api/v1/tasks/{id}", authMiddleware(handlers.Task.GetTask))
	r.PUT("/api/v1/tasks/{id}", authMiddleware(handlers.Task.UpdateTask))
	r.DELETE("/api/v1/tasks/{id}", authMiddleware(handlers.Task.DeleteTask))
	r.POST("/api/v1/tasks/{id}/complete", authMiddleware(handlers.Task.CompleteTask))

	// Evidence
	r.GET("/api/v1/tasks/{id}/evidence", authMiddleware(handlers.Evidence.ListByTask))
	r.POST("/api/v1/tasks/{id}/evidence", authMiddleware(handlers.Evidence.Submit))
	r.GET("/api/v1/evidence/{id}/payload", authMiddleware(handlers.Evidence.Payload))
	r.POST("/api/v1/evidence/{id}/adjudicate", authMiddleware(handlers.Evidence.Adjudicate))

	// Ledger
	r.GET("/api/v1/ledger/balance", authMiddleware(handlers.Ledger.Balance))
	r.GET("/api/v1/ledger/entries", authMiddleware(handlers.Ledger.Entries))
	r.POST("/api/v1/ledger/deductions", authMiddleware(handlers.Ledger.Deduct))

	// Notifications
	r.GET("/api/v1/notifications", authMiddleware(handlers.Notification.List))
	r.POST("/api/v1/notifications/read-all", authMiddleware(handlers.Notification.MarkAllRead))
	r.POST("/api/v1/notifications/{id}/read", authMiddleware(handlers.Notification.MarkRead))
	r.DELETE("/api/v1/notifications/{id}", authMiddleware(handlers.Notification.Delete))

	// Sync
	r.GET("/api/v1/sync", authMiddleware(handlers.Sync.Pending))
	r.POST("/api/v1/sync", authMiddleware(handlers.Sync.Sync))

	return r
}
