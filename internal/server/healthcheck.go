package server

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devcubo3/trabalho-mae/constants"
)

const probeTimeout = 5 * time.Second

func (h handlers) healthCheck(startedAt time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		now := time.Now().UTC()
		diff := now.Sub(startedAt)

		ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
		defer cancel()

		names := make([]string, 0, len(h.probes))
		for name := range h.probes {
			names = append(names, name)
		}
		sort.Strings(names)

		code, status := http.StatusOK, "Ok"
		storage := make(map[string]string, len(names))
		for _, name := range names {
			if err := h.probes[name](ctx); err != nil {
				h.logger.Warn("health probe failed", "probe", name, "error", err)
				storage[name] = err.Error()
				code, status = http.StatusServiceUnavailable, "Unavailable"
				continue
			}
			storage[name] = "ok"
		}

		c.JSON(code, gin.H{
			"service":               constants.ServiceName,
			"started_at":            startedAt.String(),
			"uptime":                diff.String(),
			"status":                status,
			"storage":               storage,
			"version":               constants.Version,
			"revision":              constants.Revision,
			"build_time":            constants.BuildTime,
			"compiler":              constants.Compiler,
			"latest_commit_message": constants.LatestCommitMessage,
			"ip_address":            c.ClientIP(),
		})
	}
}
