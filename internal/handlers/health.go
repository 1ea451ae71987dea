package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthReporter exposes the latest dependency check results.
type HealthReporter interface {
	Snapshot() (bool, map[string]string)
}

// Healthz reports 200 when every dependency check passed, 503 otherwise.
func Healthz(reporter HealthReporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		healthy, checks := reporter.Snapshot()
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"success": healthy, "checks": checks})
	}
}
