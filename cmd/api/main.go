package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/eduplan/eduplan-api/internal/handler"
	"github.com/eduplan/eduplan-api/internal/middleware"
	"github.com/eduplan/eduplan-api/internal/models"
	"github.com/eduplan/eduplan-api/internal/repository"
	"github.com/eduplan/eduplan-api/internal/service"
	"github.com/eduplan/eduplan-api/pkg/cache"
	"github.com/eduplan/eduplan-api/pkg/config"
	"github.com/eduplan/eduplan-api/pkg/database"
	"github.com/eduplan/eduplan-api/pkg/logger"
	corsmiddleware "github.com/eduplan/eduplan-api/pkg/middleware/cors"
	reqidmiddleware "github.com/eduplan/eduplan-api/pkg/middleware/requestid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, timetable cache disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	periodRepo := repository.NewPeriodRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	classroomRepo := repository.NewClassroomRepository(db)
	slotRepo := repository.NewSlotRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	changeRequestRepo := repository.NewChangeRequestRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Timetable.CacheTTL, logr, cfg.Timetable.CacheEnabled && redisClient != nil)
	authSvc := service.NewAuthService(userRepo, teacherRepo, studentRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     "eduplan-api",
	})
	periodSvc := service.NewPeriodService(periodRepo, db, validate, logr)
	catalogSvc := service.NewCatalogService(subjectRepo, groupRepo, classroomRepo, validate, logr)
	scheduleSvc := service.NewScheduleService(slotRepo, classroomRepo, teacherRepo, groupRepo, periodRepo, cacheSvc, metricsSvc, db, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, groupRepo, periodRepo, studentRepo, slotRepo, metricsSvc, db, validate, logr, cfg.Enrollment.MaxActiveSubjects)
	changeRequestSvc := service.NewChangeRequestService(changeRequestRepo, slotRepo, teacherRepo, classroomRepo, groupRepo, periodRepo, enrollmentRepo, notificationRepo, cacheSvc, metricsSvc, db, validate, logr)
	notificationSvc := service.NewNotificationService(notificationRepo, logr)

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	periodHandler := handler.NewPeriodHandler(periodSvc)
	catalogHandler := handler.NewCatalogHandler(catalogSvc)
	scheduleHandler := handler.NewScheduleHandler(scheduleSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	changeRequestHandler := handler.NewChangeRequestHandler(changeRequestSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))
	{
		authed.GET("/auth/me", authHandler.Me)

		adminOnly := middleware.RequireRoles(models.RoleAdmin)
		staff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)

		authed.GET("/periods", periodHandler.List)
		authed.GET("/periods/active", periodHandler.GetActive)
		authed.GET("/periods/:id", periodHandler.Get)
		authed.POST("/periods", adminOnly, periodHandler.Create)
		authed.PUT("/periods/:id", adminOnly, periodHandler.Update)
		authed.POST("/periods/:id/activate", adminOnly, periodHandler.Activate)
		authed.POST("/periods/:id/deactivate", adminOnly, periodHandler.Deactivate)
		authed.DELETE("/periods/:id", adminOnly, periodHandler.Delete)

		authed.GET("/subjects", catalogHandler.ListSubjects)
		authed.GET("/subjects/:id", catalogHandler.GetSubject)
		authed.POST("/subjects", adminOnly, catalogHandler.CreateSubject)
		authed.PUT("/subjects/:id", adminOnly, catalogHandler.UpdateSubject)
		authed.DELETE("/subjects/:id", adminOnly, catalogHandler.DeleteSubject)

		authed.GET("/groups", catalogHandler.ListGroups)
		authed.GET("/groups/:id", catalogHandler.GetGroup)
		authed.POST("/groups", adminOnly, catalogHandler.CreateGroup)
		authed.PUT("/groups/:id", adminOnly, catalogHandler.UpdateGroup)
		authed.DELETE("/groups/:id", adminOnly, catalogHandler.DeleteGroup)

		authed.GET("/classrooms", catalogHandler.ListClassrooms)
		authed.GET("/classrooms/:id", catalogHandler.GetClassroom)
		authed.POST("/classrooms", adminOnly, catalogHandler.CreateClassroom)
		authed.PUT("/classrooms/:id", adminOnly, catalogHandler.UpdateClassroom)
		authed.DELETE("/classrooms/:id", adminOnly, catalogHandler.DeleteClassroom)

		authed.GET("/slots", scheduleHandler.List)
		authed.GET("/slots/:id", scheduleHandler.Get)
		authed.POST("/slots", adminOnly, scheduleHandler.Create)
		authed.POST("/slots/check-conflict", staff, scheduleHandler.CheckConflict)
		authed.POST("/slots/:id/move", adminOnly, scheduleHandler.Move)
		authed.DELETE("/slots/:id", adminOnly, scheduleHandler.Cancel)

		authed.GET("/timetables/groups/:id", scheduleHandler.GroupTimetable)
		authed.GET("/timetables/teachers/:id", scheduleHandler.TeacherTimetable)
		authed.GET("/timetables/classrooms/:id", scheduleHandler.ClassroomTimetable)
		authed.GET("/timetables/students/:id", scheduleHandler.StudentTimetable)

		studentOrAdmin := middleware.RequireRoles(models.RoleAdmin, models.RoleStudent)
		authed.GET("/enrollments", enrollmentHandler.List)
		authed.GET("/enrollments/:id", enrollmentHandler.Get)
		authed.POST("/enrollments", studentOrAdmin, enrollmentHandler.Create)
		authed.POST("/enrollments/validate", studentOrAdmin, enrollmentHandler.Validate)
		authed.PUT("/enrollments/:id", studentOrAdmin, enrollmentHandler.ChangeGroup)
		authed.POST("/enrollments/:id/reactivate", studentOrAdmin, enrollmentHandler.Reactivate)
		authed.DELETE("/enrollments/:id", studentOrAdmin, enrollmentHandler.Withdraw)
		authed.GET("/students/:id/load", enrollmentHandler.StudentLoad)

		teacherOnly := middleware.RequireRoles(models.RoleTeacher)
		authed.POST("/change-requests", teacherOnly, changeRequestHandler.Submit)
		authed.GET("/change-requests", staff, changeRequestHandler.List)
		authed.GET("/change-requests/:id", staff, changeRequestHandler.Get)
		authed.POST("/change-requests/:id/approve", adminOnly, changeRequestHandler.Approve)
		authed.POST("/change-requests/:id/reject", adminOnly, changeRequestHandler.Reject)

		authed.GET("/notifications", notificationHandler.List)
		authed.GET("/notifications/unread-count", notificationHandler.CountUnread)
		authed.POST("/notifications/:id/read", notificationHandler.MarkRead)
		authed.POST("/notifications/read-all", notificationHandler.MarkAllRead)
		authed.DELETE("/notifications/:id", notificationHandler.Delete)

		authed.GET("/metrics/summary", adminOnly, metricsHandler.Snapshot)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logr.Sugar().Infow("server stopped")
}
