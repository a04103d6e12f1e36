package router

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"odprt-chatbot/gateway/pkg/health"
)

// setupHealthRoutes registers health check endpoints
func (r *Router) setupHealthRoutes() {
	healthHandler := func(c *gin.Context) {
		components := r.Container.Health.GetStatus()

		status := http.StatusOK
		overall := "ok"
		if !r.Container.Health.IsSystemHealthy() {
			status = http.StatusServiceUnavailable
			overall = "down"
		} else {
			for _, comp := range components {
				if comp.Status != health.StatusUp {
					overall = "degraded"
					break
				}
			}
		}

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		c.JSON(status, gin.H{
			"status":     overall,
			"version":    os.Getenv("APP_VERSION"),
			"timestamp":  time.Now().Format(time.RFC3339),
			"components": components,
			"websocket": gin.H{
				"active_connections": r.Hub.ConnectionCount(),
			},
			"sessions": gin.H{
				"live": r.Container.Sessions.Len(),
			},
			"memory": gin.H{
				"alloc_mb":  memStats.Alloc / 1024 / 1024,
				"sys_mb":    memStats.Sys / 1024 / 1024,
				"gc_cycles": memStats.NumGC,
			},
		})
	}

	// Register both health endpoint paths for compatibility
	r.Engine.GET("/health", healthHandler)
	r.Engine.GET("/api/health", healthHandler)
}
