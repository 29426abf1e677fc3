package handler

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/uniportal-api/internal/middleware"
	"github.com/noah-isme/uniportal-api/internal/models"
	"github.com/noah-isme/uniportal-api/internal/service"
	"github.com/noah-isme/uniportal-api/pkg/config"
	"github.com/noah-isme/uniportal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/uniportal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/uniportal-api/pkg/middleware/requestid"
)

// RouterConfig carries everything the HTTP surface is assembled from.
type RouterConfig struct {
	APIPrefix     string
	CORS          config.CORSConfig
	MetricsPath   string
	EnableMetrics bool
	EnableDocs    bool

	Logger  *zap.Logger
	Metrics *service.MetricsService
	Auth    interface {
		ValidateToken(token string) (*models.JWTClaims, error)
	}

	Sections    *SectionHandler
	Enrollments *EnrollmentHandler
	Grades      *GradeHandler
	Health      *MetricsHandler
}

// NewRouter builds the gin engine with the global middleware chain and every API route.
func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	prefix := cfg.APIPrefix
	if prefix == "" {
		prefix = "/api/v1"
	}

	r := gin.New()
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(log))
	r.Use(logger.Recovery(log))
	r.Use(corsmiddleware.New(cfg.CORS))
	r.Use(middleware.Metrics(cfg.Metrics))

	if cfg.Health != nil {
		r.GET("/health", cfg.Health.Health)
		r.GET("/ready", cfg.Health.Ready)
		if cfg.EnableMetrics {
			path := cfg.MetricsPath
			if path == "" {
				path = "/metrics"
			}
			r.GET(path, cfg.Health.Prometheus)
		}
	}
	if cfg.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	admin, staff, teacher, student := models.RoleAdmin, models.RoleStaff, models.RoleTeacher, models.RoleStudent
	audit := log.Named("audit")

	api := r.Group(prefix)
	api.Use(middleware.WithResponseMeta(), middleware.JWT(cfg.Auth))

	sections := api.Group("/sections")
	sections.GET("", cfg.Sections.List)
	sections.GET("/:id", cfg.Sections.Get)
	sections.GET("/:id/occupancy", cfg.Sections.Occupancy)
	sections.POST("", middleware.RequireRoles(admin, staff), middleware.Audit(audit, "create", "section"), cfg.Sections.Create)
	sections.PUT("/:id", middleware.RequireRoles(admin, staff), middleware.Audit(audit, "update", "section"), cfg.Sections.Update)
	sections.PATCH("/:id/status", middleware.RequireRoles(admin, staff), middleware.Audit(audit, "set_status", "section"), cfg.Sections.SetStatus)
	sections.POST("/:id/grade-lock", middleware.RequireRoles(admin, staff, teacher), middleware.Audit(audit, "toggle_grade_lock", "section"), cfg.Sections.ToggleGradeLock)
	sections.GET("/:id/grades", middleware.RequireRoles(admin, staff, teacher), cfg.Grades.BySection)
	sections.GET("/:id/grades/export", middleware.RequireRoles(admin, staff, teacher), cfg.Grades.Export)

	enrollments := api.Group("/enrollments")
	enrollments.GET("", cfg.Enrollments.List)
	enrollments.GET("/:id", cfg.Enrollments.Get)
	enrollments.POST("", middleware.RequireRoles(admin, staff, student), middleware.Audit(audit, "admit", "enrollment"), cfg.Enrollments.Create)
	enrollments.PATCH("/:id/status", middleware.RequireRoles(admin, staff), middleware.Audit(audit, "change_status", "enrollment"), cfg.Enrollments.UpdateStatus)
	enrollments.POST("/:id/withdraw", middleware.RequireRoles(admin, staff, student), middleware.Audit(audit, "withdraw", "enrollment"), cfg.Enrollments.Withdraw)
	enrollments.DELETE("/:id", middleware.RequireRoles(admin), middleware.Audit(audit, "delete", "enrollment"), cfg.Enrollments.Delete)
	enrollments.GET("/:id/grade", cfg.Grades.GetByEnrollment)
	enrollments.PUT("/:id/grade", middleware.RequireRoles(admin, teacher), middleware.Audit(audit, "upsert_grade", "grade"), cfg.Grades.Upsert)

	students := api.Group("/students")
	students.GET("/:id/grades", middleware.RBAC(string(admin), string(staff), string(teacher), middleware.Self), cfg.Grades.ByStudent)

	return r
}
