package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
)

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckResult represents the result of an individual health check
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthChecker manages and executes health checks
type HealthChecker struct {
	service string
	version string
	checks  map[string]HealthCheck
}

// HealthCheck is a function that performs a health check
type HealthCheck func() CheckResult

// NewHealthChecker creates a new health checker instance
func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service: service,
		version: version,
		checks:  make(map[string]HealthCheck),
	}
}

// AddCheck adds a health check to the checker
func (hc *HealthChecker) AddCheck(name string, check HealthCheck) {
	hc.checks[name] = check
}

// CheckHealth runs all health checks and returns the overall status
func (hc *HealthChecker) CheckHealth() HealthStatus {
	status := HealthStatus{
		Service:   hc.service,
		Version:   hc.version,
		Timestamp: time.Now().Unix(),
		Checks:    make(map[string]CheckResult),
	}

	anyUnhealthy := false
	anyDegraded := false
	for name, check := range hc.checks {
		result := check()
		status.Checks[name] = result
		switch result.Status {
		case StatusHealthy:
		case StatusDegraded:
			anyDegraded = true
		case StatusUnhealthy:
			anyUnhealthy = true
		default:
			anyUnhealthy = true
		}
	}

	switch {
	case anyUnhealthy:
		status.Status = StatusUnhealthy
	case anyDegraded:
		status.Status = StatusDegraded
	default:
		status.Status = StatusHealthy
	}

	return status
}

// Handler returns a middleware handler for the health check endpoint
func (hc *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		health := hc.CheckHealth()
		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, health)
	}
}

// Common Health Check Functions

// DatabaseHealthCheck creates a health check for database connectivity
func DatabaseHealthCheck(db *sql.DB) HealthCheck {
	return func() CheckResult {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := db.PingContext(ctx)
		duration := time.Since(start)

		if err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("Database ping failed: %v", err),
				Latency: duration.String(),
			}
		}

		return CheckResult{
			Status:  StatusHealthy,
			Message: "Database connection successful",
			Latency: duration.String(),
		}
	}
}

// RedisHealthCheck creates a health check for Redis connectivity
func RedisHealthCheck(client goredis.UniversalClient) HealthCheck {
	return func() CheckResult {
		start := time.Now()

		if client == nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "Redis client is nil",
				Latency: time.Since(start).String(),
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := client.Ping(ctx).Err()
		duration := time.Since(start)

		if err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("Redis ping failed: %v", err),
				Latency: duration.String(),
			}
		}

		return CheckResult{
			Status:  StatusHealthy,
			Message: "Redis connection healthy",
			Latency: duration.String(),
		}
	}
}

// HTTPServiceHealthCheck creates a health check for a dependent HTTP service
func HTTPServiceHealthCheck(name, url string) HealthCheck {
	client := &http.Client{Timeout: 5 * time.Second}
	return func() CheckResult {
		start := time.Now()

		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("%s request build failed: %v", name, err),
				Latency: time.Since(start).String(),
			}
		}

		resp, err := client.Do(req)
		duration := time.Since(start)
		if err != nil {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%s unreachable: %v", name, err),
				Latency: duration.String(),
			}
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 500 {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%s returned %d", name, resp.StatusCode),
				Latency: duration.String(),
			}
		}

		return CheckResult{
			Status:  StatusHealthy,
			Latency: duration.String(),
		}
	}
}
