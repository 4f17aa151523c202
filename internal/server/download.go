package server

import (
	"io"
	"mime"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"

	"github.com/devcubo3/trabalho-mae/internal/store"
	"github.com/devcubo3/trabalho-mae/internal/types"
)

const notFoundMessage = "Arquivo não encontrado"

// download serves a result as an attachment. Only the base name of the parameter is used.
func (h handlers) download() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := path.Base(c.Param("name"))
		if store.ValidName(name) != nil {
			c.String(http.StatusNotFound, notFoundMessage)
			return
		}

		artifact, err := h.results.Open(c.Request.Context(), name)
		if err != nil {
			if types.IsNotFound(err) {
				c.String(http.StatusNotFound, notFoundMessage)
				return
			}
			h.logger.Error("failed to open result", "name", name, "error", err)
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		defer artifact.Reader.Close()

		c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
		c.Header("Content-Type", string(types.DocxContentType))

		if rs, ok := artifact.Reader.(io.ReadSeeker); ok {
			http.ServeContent(c.Writer, c.Request, name, artifact.CreateAt, rs)
			return
		}
		c.DataFromReader(http.StatusOK, artifact.Size, string(types.DocxContentType), artifact.Reader, nil)
	}
}
