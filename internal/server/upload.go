package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devcubo3/trabalho-mae/internal/types"
)

// submitFromRequest stores the posted PDF and queues a job for it.
func (h handlers) submitFromRequest(c *gin.Context) (types.Job, error) {
	start := time.Now()
	r := c.Request
	r.Body = http.MaxBytesReader(c.Writer, r.Body, h.config.Server.MaxUploadSize+formOverhead)

	if err := r.ParseMultipartForm(MULTI_PART_MAX_MEMORY); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return types.Job{}, fmt.Errorf("%w: request body exceeds %d bytes", types.ErrInvalidUpload, tooLarge.Limit)
		}
		// a form without any file part still counts as missing input
		if !errors.Is(err, http.ErrNotMultipart) {
			return types.Job{}, fmt.Errorf("%w: %v", types.ErrInvalidUpload, err)
		}
	}
	defer func() {
		if r.MultipartForm == nil {
			return
		}
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.logger.Warn("failed to free multipart form resources", "error", err)
		}
	}()

	reader, metadata, err := r.FormFile("pdf")
	if err != nil {
		return types.Job{}, errMissingInput
	}
	defer reader.Close()

	apiKey := strings.TrimSpace(r.FormValue("api_key"))
	if apiKey == "" {
		apiKey = h.config.OpenAI.APIKey
	}
	if apiKey == "" {
		return types.Job{}, errMissingInput
	}

	var account types.Account
	if account.Bank, err = parseAccountField("banco", r.FormValue("banco"), h.config.Account.Bank); err != nil {
		return types.Job{}, err
	}
	if account.Branch, err = parseAccountField("agencia", r.FormValue("agencia"), h.config.Account.Branch); err != nil {
		return types.Job{}, err
	}
	if account.Number, err = parseAccountField("conta", r.FormValue("conta"), h.config.Account.Number); err != nil {
		return types.Job{}, err
	}

	upload, err := h.uploads.Save(r.Context(), metadata.Filename, metadata.Header.Get("Content-Type"), reader)
	if err != nil {
		return types.Job{}, err
	}

	job, err := h.jobs.Submit(r.Context(), types.Job{
		ID:         upload.ID,
		SourceName: upload.Filename,
		Account:    account,
		UploadPath: upload.Path,
		APIKey:     apiKey,
	})
	if err != nil {
		if rmErr := h.uploads.Remove(upload.ID); rmErr != nil {
			h.logger.Warn("failed to remove upload of rejected job", "id", upload.ID, "error", rmErr)
		}
		return types.Job{}, err
	}

	if h.stat != nil {
		h.stat.RecordMetric("upload", start)
	}
	return job, nil
}

// submitError maps a submission failure to a status code and the message shown to the client.
func submitError(err error) (int, string) {
	switch {
	case errors.Is(err, errMissingInput):
		return http.StatusBadRequest, errMissingInput.Error()
	case errors.Is(err, types.ErrInvalidUpload):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, types.ErrQueueFull), errors.Is(err, types.ErrShuttingDown):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, "Erro geral: falha ao receber o arquivo"
	}
}
