package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devcubo3/trabalho-mae/internal/types"
)

func startEvents(c *gin.Context, status int) {
	c.Header("Content-Type", "text/event-stream; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(status)
}

func writeEvent(c *gin.Context, ev types.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

// processar accepts a statement and streams the job's progress until it ends.
func (h handlers) processar() gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := h.submitFromRequest(c)
		if err != nil {
			status, msg := submitError(err)
			if status >= http.StatusInternalServerError {
				h.logger.Error("failed to submit job", "error", err)
			} else {
				h.logger.Info("rejected submission", "error", err)
			}
			startEvents(c, status)
			_ = writeEvent(c, types.Failure(msg))
			return
		}

		startEvents(c, http.StatusOK)
		h.streamJob(c, job.ID)
	}
}

// streamJob relays events until the terminal one. When the request deadline or a server
// shutdown comes first the job keeps running and the client is pointed at its status URL.
func (h handlers) streamJob(c *gin.Context, id types.ID) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	if h.draining != nil {
		defer context.AfterFunc(h.draining, cancel)()
	}

	err := h.jobs.Stream(ctx, id, func(ev types.Event) error {
		return writeEvent(c, ev)
	})
	switch {
	case err == nil:
	case h.draining != nil && h.draining.Err() != nil && c.Request.Context().Err() == nil:
		ev := types.Failure(fmt.Sprintf("Servidor reiniciando. Acompanhe o processamento em %s.", jobPath(id)))
		ev.JobID = id
		_ = writeEvent(c, ev)
	case errors.Is(err, context.DeadlineExceeded):
		ev := types.Failure(fmt.Sprintf("Tempo limite da conexão excedido. Acompanhe o processamento em %s.", jobPath(id)))
		ev.JobID = id
		_ = writeEvent(c, ev)
	case errors.Is(err, context.Canceled):
		h.logger.Debug("client left event stream", "job", id)
	default:
		h.logger.Error("event stream failed", "job", id, "error", err)
		ev := types.Failure(fmt.Sprintf("Erro geral: %v", err))
		ev.JobID = id
		_ = writeEvent(c, ev)
	}
}
