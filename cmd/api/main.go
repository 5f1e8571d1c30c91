package main

import (
	"context"
	"encoding/json"
	"os"

	_ "procurement/api/swagger" // swagger docs
	"procurement/internal/database"
	"procurement/internal/dispatch"
	"procurement/internal/handler"
	"procurement/internal/middleware"
	"procurement/internal/model"
	"procurement/internal/repository"
	"procurement/internal/service"
	"procurement/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Procurement Approval API
// @version         1.0
// @description     Approval matrix and workflow engine for procurement documents.
// @host            localhost:8080
// @BasePath        /api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("GIN_MODE") != "release" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	if err := godotenv.Load("configs/.env"); err != nil {
		log.Info().Msg("no configs/.env file found")
	}

	dbHost := envOr("DB_HOST", "localhost")
	dbPort := envOr("DB_PORT", "5432")
	dbUser := envOr("DB_USER", "postgres")
	dbPassword := envOr("DB_PASSWORD", "postgres")
	dbName := envOr("DB_NAME", "postgres")
	dbSslMode := envOr("DB_SSLMODE", "disable")

	dsn := "postgres://" + dbUser + ":" + dbPassword + "@" + dbHost + ":" + dbPort + "/" + dbName + "?sslmode=" + dbSslMode

	db, err := database.NewConnection(dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	log.Info().Msg("connected to PostgreSQL")

	// WebSocket hub for workflow event notifications
	wsHub := websocket.NewHub(log)
	go wsHub.Run()

	// Repositories
	txManager := repository.NewTransactionManager(db)
	userRepo := repository.NewUserRepository(db)
	ruleRepo := repository.NewRuleRepository(db)
	workflowRepo := repository.NewWorkflowRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	overrideRepo := repository.NewOverrideRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Side-effect dispatcher: completion hooks run detached from the
	// approval transaction, failures are logged and audited only.
	dispatcher := dispatch.NewRegistry(log)
	dispatcher.RegisterAll(dispatch.NewNotifyHook(func(msg []byte) {
		select {
		case wsHub.GetBroadcast() <- msg:
		default:
		}
	}))
	if docURL := os.Getenv("DOCUMENT_SERVICE_URL"); docURL != "" {
		dispatcher.Register(model.CategoryPurchaseOrder,
			dispatch.NewDocumentDispatchHook(dispatch.NewHTTPDeliverer(docURL)))
	}
	dispatcher.OnFailure(func(hookName string, wf *model.Workflow, err error) {
		details, _ := json.Marshal(map[string]string{"hook": hookName, "error": err.Error()})
		entry := &model.AuditLog{
			Action:     model.ActionDispatchFailed,
			EntityType: "workflow",
			EntityID:   wf.ID.String(),
			EntityName: wf.ReferenceCode,
			NewValues:  string(details),
		}
		if aerr := auditRepo.Append(context.Background(), entry); aerr != nil {
			log.Error().Err(aerr).Str("workflow_id", wf.ID.String()).Msg("failed to audit dispatch failure")
		}
	})

	// Services
	userService := service.NewUserService(userRepo)
	ruleService := service.NewRuleService(ruleRepo, workflowRepo, auditRepo, txManager, log)
	roleService := service.NewRoleService(roleRepo, userRepo, auditRepo, txManager, log)
	overrideService := service.NewOverrideService(overrideRepo, auditRepo, txManager)
	auditService := service.NewAuditService(auditRepo)
	workflowService := service.NewWorkflowService(service.WorkflowServiceDeps{
		Workflows:  workflowRepo,
		Rules:      ruleRepo,
		Overrides:  overrideRepo,
		Roles:      roleRepo,
		Users:      userRepo,
		Audit:      auditRepo,
		Tx:         txManager,
		Matcher:    ruleService,
		Dispatcher: dispatcher,
		Hub:        wsHub,
		Policy:     service.ParseSequentialPolicy(os.Getenv("APPROVAL_SEQUENTIAL_POLICY")),
		Log:        log,
	})

	// Handlers
	userHandler := handler.NewUserHandler(userService)
	ruleHandler := handler.NewRuleHandler(ruleService)
	roleHandler := handler.NewRoleHandler(roleService)
	overrideHandler := handler.NewOverrideHandler(overrideService)
	workflowHandler := handler.NewWorkflowHandler(workflowService)
	auditHandler := handler.NewAuditHandler(auditService)

	router := gin.Default()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK"})
	})

	// WebSocket endpoint
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, middleware.GetJWTSecret())
	})

	// API routes
	api := router.Group("/api")
	userHandler.RegisterRoutes(api)
	ruleHandler.RegisterRoutes(api)
	roleHandler.RegisterRoutes(api)
	overrideHandler.RegisterRoutes(api)
	workflowHandler.RegisterRoutes(api)
	auditHandler.RegisterRoutes(api)

	port := envOr("PORT", "8080")
	log.Info().Str("port", port).Msg("server listening")
	if err := router.Run(":" + port); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
