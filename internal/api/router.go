package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/sura/internal/api/handlers"
	"github.com/your-org/sura/internal/api/ws"
	"github.com/your-org/sura/internal/auth"
	"github.com/your-org/sura/internal/config"
	"github.com/your-org/sura/internal/match"
	"github.com/your-org/sura/internal/notify"
	"github.com/your-org/sura/internal/policy"
	"github.com/your-org/sura/internal/storage"
)

type RouterConfig struct {
	APIKey     string
	MaxRetries int
	Matching   config.MatchingConfig
	DB         *storage.PostgresStore
	Objects    storage.ObjectStore
	Emitter    *notify.NATSEmitter
	Policy     *policy.Policy
	Reviewer   *match.Reviewer
	Hub        *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.Objects, cfg.Emitter)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1: service key first, then per-request actor resolution
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))
	v1.GET("/ws", cfg.Hub.HandleWS)
	v1.Use(auth.ActorMiddleware(cfg.DB, cfg.Policy))

	caseH := handlers.NewCaseHandler(cfg.DB, cfg.Matching)
	v1.POST("/cases", caseH.Create)
	v1.GET("/cases", caseH.List)
	v1.GET("/cases/:id", caseH.Get)
	v1.PATCH("/cases/:id/status", caseH.UpdateStatus)
	v1.GET("/cases/:id/images", caseH.ListImages)
	v1.GET("/cases/:id/search", caseH.Search)

	imageH := handlers.NewImageHandler(cfg.DB, cfg.Objects, cfg.MaxRetries)
	v1.POST("/cases/:id/images", imageH.Upload)
	v1.GET("/images/:id", imageH.Get)

	matchH := handlers.NewMatchHandler(cfg.DB, cfg.Reviewer)
	v1.GET("/matches", matchH.List)
	v1.GET("/matches/:id", matchH.Get)
	v1.POST("/matches/:id/verify", matchH.Verify)
	v1.POST("/matches/:id/reject", matchH.Reject)

	queueH := handlers.NewQueueHandler(cfg.DB)
	v1.GET("/queue/stats", queueH.Stats)
	v1.GET("/queue/entries", queueH.List)
	v1.GET("/queue/entries/:id", queueH.Get)

	actorH := handlers.NewActorHandler(cfg.DB)
	v1.POST("/actors", actorH.Create)
	v1.GET("/actors/:id", actorH.Get)

	return r
}
