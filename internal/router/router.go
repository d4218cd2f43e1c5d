package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/eventos-api/internal/handler"
	"github.com/noah-isme/eventos-api/internal/middleware"
	"github.com/noah-isme/eventos-api/internal/models"
	"github.com/noah-isme/eventos-api/internal/service"
	"github.com/noah-isme/eventos-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/eventos-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/eventos-api/pkg/middleware/requestid"
)

// Options carries everything the HTTP surface is built from.
type Options struct {
	Logger         *zap.Logger
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool

	Auth        middleware.TokenValidator
	Metrics     *service.MetricsService
	Users       *handler.UserHandler
	Sessions    *handler.AuthHandler
	Events      *handler.EventHandler
	Enrollments *handler.EnrollmentHandler
	Payments    *handler.PaymentHandler
	Ops         *handler.MetricsHandler
}

// New builds the gin engine with every route registered.
func New(opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(opts.Logger))
	r.Use(corsmiddleware.New(opts.AllowedOrigins))
	r.Use(middleware.Metrics(opts.Metrics, "/health", "/ready", "/metrics"))

	r.GET("/health", opts.Ops.Health)
	r.GET("/ready", opts.Ops.Ready)
	r.GET("/metrics", opts.Ops.Prometheus)
	if opts.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	prefix := opts.APIPrefix
	if prefix == "" {
		prefix = "/api"
	}
	api := r.Group(prefix)

	auth := middleware.JWT(opts.Auth)
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleResponsible)
	admin := middleware.RequireRoles(models.RoleAdmin)

	api.POST("/auth/login", opts.Sessions.Login)
	api.GET("/auth/me", auth, opts.Sessions.Me)

	users := api.Group("/usuarios")
	users.POST("", middleware.OptionalJWT(opts.Auth), opts.Users.Register)
	users.GET("", auth, admin, opts.Users.List)
	users.GET("/:id", auth, middleware.RBAC(string(models.RoleAdmin), middleware.Self("id")), opts.Users.Get)
	users.PATCH("/:id/estado", auth, admin, opts.Users.UpdateStatus)

	events := api.Group("/eventos")
	events.GET("", opts.Events.List)
	events.GET("/:id", opts.Events.Get)
	events.POST("", auth, staff, opts.Events.Create)
	events.PUT("/:id", auth, staff, opts.Events.Update)
	events.GET("/:id/inscripciones", auth, middleware.RequireRoles(models.RoleAdmin, models.RoleResponsible, models.RoleTeacher), opts.Events.Roster)

	ownerOrAdmin := middleware.RBAC(string(models.RoleAdmin), middleware.Self("id"))
	ownerOrStaff := middleware.RBAC(string(models.RoleAdmin), string(models.RoleResponsible), middleware.Self("id"))
	students := api.Group("/estudiantes/:id", auth)
	students.POST("/inscribir", ownerOrAdmin, opts.Enrollments.Enroll)
	students.GET("/inscripcion", ownerOrStaff, opts.Enrollments.Lookup)
	students.GET("/inscripciones", ownerOrStaff, opts.Enrollments.List)

	payments := api.Group("/pagos")
	payments.GET("/comprobantes/descargar", opts.Payments.DownloadReceipt)
	payments.POST("", auth, opts.Payments.CreateManual)
	payments.POST("/paypal", auth, opts.Payments.CreatePayPal)
	payments.GET("/inscripcion/:inscripcionId", auth, opts.Payments.ListByEnrollment)
	payments.GET("/pendientes", auth, staff, opts.Payments.ListPending)
	payments.GET("/reporte", auth, admin, opts.Payments.Report)
	payments.PUT("/:pagoId/estado", auth, staff, opts.Payments.SetStatus)
	payments.GET("/:pagoId/comprobante", auth, opts.Payments.ReceiptURL)

	api.GET("/admin/metricas", auth, admin, opts.Ops.Summary)

	return r
}
