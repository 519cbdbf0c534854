// Package api wires the HTTP surface of the retrieval backend.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/velia-labs/imagematch/internal/api/handlers"
	"github.com/velia-labs/imagematch/internal/health"
	"github.com/velia-labs/imagematch/internal/middleware"
)

// StaticPaths maps URL prefixes to the directories they serve.
type StaticPaths struct {
	Dataset   string
	Processed string
	Gabor     string
	HuMoments string
}

// NewRouter assembles the gin engine with all routes and middleware.
// healthChecker may be nil; /health then reports only process liveness.
func NewRouter(
	retrieval *handlers.RetrievalHandler,
	descriptors *handlers.DescriptorHandler,
	auth *handlers.AuthHandler,
	healthChecker *health.HealthChecker,
	static StaticPaths,
	logger *logrus.Logger,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS())
	router.Use(middleware.NewRateLimiter(120).RateLimit())

	router.POST("/save-image", retrieval.HandleSaveImage)
	router.GET("/get-images", retrieval.HandleGetImages)
	router.GET("/get-similar-images", retrieval.HandleGetSimilarImages)
	router.POST("/submit_feedback", retrieval.HandleSubmitFeedback)

	router.POST("/calculate-histogram", descriptors.HandleCalculateHistogram)
	router.POST("/calculate-dominant-colors", descriptors.HandleCalculateDominantColors)
	router.POST("/calculate-feature-descriptors", descriptors.HandleCalculateFeatureDescriptors)
	router.POST("/calculate-gabor", descriptors.HandleCalculateGabor)
	router.POST("/calculate-hu-moments", descriptors.HandleCalculateHuMoments)

	if auth != nil {
		authGroup := router.Group("/api/auth")
		authGroup.POST("/signup", auth.HandleSignup)
		authGroup.POST("/login", auth.HandleLogin)
		authGroup.POST("/google", auth.HandleGoogleAuth)
		authGroup.POST("/forgot-password", auth.HandleForgotPassword)
	}

	router.GET("/health", healthHandler(healthChecker))

	router.Static("/static/dataset", static.Dataset)
	router.Static("/processed", static.Processed)
	router.Static("/gabor", static.Gabor)
	router.Static("/humoments", static.HuMoments)

	return router
}

func healthHandler(checker *health.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker == nil {
			c.JSON(http.StatusOK, gin.H{
				"status":    "healthy",
				"timestamp": time.Now().Format(time.RFC3339),
			})
			return
		}

		if cached, err := checker.CheckCached(c.Request.Context()); err == nil {
			cached.CacheStats, _ = checker.CacheStats(c.Request.Context())
			c.JSON(statusCode(cached.Status), cached)
			return
		}

		overall := checker.CheckAll()
		overall.CacheStats, _ = checker.CacheStats(c.Request.Context())
		c.JSON(statusCode(overall.Status), overall)
	}
}

func statusCode(status string) int {
	if status == "unhealthy" {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
