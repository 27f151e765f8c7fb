package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// HealthHandler answers liveness and readiness probes. Liveness is
// unconditional; readiness pings the booking database and, when
// configured, redis.
type HealthHandler struct {
	DB  *sql.DB
	RDB *redis.Client
}

func NewHealthHandler(db *sql.DB, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{DB: db, RDB: rdb}
}

// Live handles GET /healthz.
func (h *HealthHandler) Live(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Ready handles GET /readyz. Redis is optional at runtime (the hub and
// caches degrade without it), so only the database gates readiness;
// redis state is reported for operators.
func (h *HealthHandler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := echo.Map{"database": "ok", "redis": "disabled"}
	code := http.StatusOK

	if h.DB == nil {
		status["database"] = "not configured"
		code = http.StatusServiceUnavailable
	} else if err := h.DB.PingContext(ctx); err != nil {
		status["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}

	if h.RDB != nil {
		if err := h.RDB.Ping(ctx).Err(); err != nil {
			status["redis"] = err.Error()
		} else {
			status["redis"] = "ok"
		}
	}

	return c.JSON(code, status)
}
