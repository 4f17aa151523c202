package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devcubo3/trabalho-mae/internal/types"
)

func jobPath(id types.ID) string {
	return "/api/jobs/" + string(id)
}

func jobLinks(id types.ID) map[string]string {
	return map[string]string{
		"self":     jobPath(id),
		"events":   jobPath(id) + "/events",
		"download": "/download/" + types.ResultName(id),
	}
}

func (h handlers) jobPost() gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := h.submitFromRequest(c)
		if err != nil {
			status, msg := submitError(err)
			if status >= http.StatusInternalServerError {
				h.logger.Error("failed to submit job", "error", err)
			}
			c.JSON(status, gin.H{"error": msg})
			return
		}

		c.JSON(http.StatusAccepted, types.JobPostResponse{
			ID:     job.ID,
			Status: job.Status,
			Links:  jobLinks(job.ID),
		})
	}
}

// jobFromParam resolves the :id parameter, answering 400 or 404 itself when it can't.
func (h handlers) jobFromParam(c *gin.Context) (types.Job, bool) {
	id, err := parseJobID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("bad job ID: %v", err),
		})
		return types.Job{}, false
	}

	job, err := h.jobs.Get(c.Request.Context(), id)
	if err != nil {
		if types.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": fmt.Sprintf("Job not found ID: %v", id),
			})
			return types.Job{}, false
		}
		h.logger.Error("failed to read job", "job", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read job",
		})
		return types.Job{}, false
	}
	return job, true
}

func (h handlers) jobGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := h.jobFromParam(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

func (h handlers) jobEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := h.jobFromParam(c)
		if !ok {
			return
		}
		startEvents(c, http.StatusOK)
		h.streamJob(c, job.ID)
	}
}

func (h handlers) jobDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseJobID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("bad job ID: %v", err),
			})
			return
		}

		err = h.jobs.Delete(c.Request.Context(), id)
		switch {
		case err == nil:
			c.Status(http.StatusNoContent)
		case errors.Is(err, types.ErrJobActive):
			c.JSON(http.StatusConflict, gin.H{
				"error": fmt.Sprintf("Job %v is still running", id),
			})
		case types.IsNotFound(err):
			c.JSON(http.StatusNotFound, gin.H{
				"error": fmt.Sprintf("Job not found ID: %v", id),
			})
		default:
			h.logger.Error("failed to delete job", "job", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": fmt.Sprintf("Failed to delete job %v", id),
			})
		}
	}
}
