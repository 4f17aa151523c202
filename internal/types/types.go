package types

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type (
	ID          string
	Filename    string
	ContentType string
	JobStatus   string
	EventType   string

	// Upload is a statement PDF accepted by the intake and waiting for the pipeline.
	Upload struct {
		ID          ID
		Filename    Filename
		ContentType ContentType
		Size        int64
		Path        string
		CreateAt    time.Time
	}

	// Account identifies the bank account printed in the generated document.
	Account struct {
		Bank   string `json:"banco"`
		Branch string `json:"agencia"`
		Number string `json:"conta"`
	}

	Job struct {
		ID           ID        `json:"id"`
		Status       JobStatus `json:"status"`
		SourceName   Filename  `json:"source_name"`
		Account      Account   `json:"account"`
		Pages        int       `json:"pages"`
		Transactions int       `json:"transactions"`
		Result       string    `json:"result,omitempty"`
		Error        string    `json:"error,omitempty"`
		CreatedAt    time.Time `json:"created_at"`
		UpdatedAt    time.Time `json:"updated_at"`

		// UploadPath and APIKey only live as long as the in-memory job.
		UploadPath string `json:"-"`
		APIKey     string `json:"-"`
	}

	// Transaction is one ledger line extracted from a statement page.
	Transaction struct {
		Date        string `json:"data"`
		Kind        string `json:"tipo"`
		Description string `json:"descricao"`
		Amount      string `json:"valor"`
	}

	// PageResult is the structured answer the vision model returns for one page.
	PageResult struct {
		Transactions    []Transaction `json:"lancamentos"`
		HasContinuation bool          `json:"pagina_tem_continuacao"`
		Notes           string        `json:"observacoes"`
	}

	// Outcome summarises a successfully processed job.
	Outcome struct {
		Result       string
		Pages        int
		Transactions int
	}

	Event struct {
		Type         EventType `json:"tipo"`
		JobID        ID        `json:"job_id,omitempty"`
		Page         *int      `json:"pagina,omitempty"`
		Total        *int      `json:"total,omitempty"`
		Message      string    `json:"mensagem"`
		File         string    `json:"arquivo,omitempty"`
		Transactions int       `json:"total_lancamentos,omitempty"`
	}

	Artifact struct {
		Name        string      `json:"name"`
		ContentType ContentType `json:"content_type"`
		Size        int64       `json:"size"`
		CreateAt    time.Time   `json:"created_at"`
	}

	ArtifactReader struct {
		Artifact
		Reader io.ReadCloser
	}

	JobPostResponse struct {
		ID     ID                `json:"id"`
		Status JobStatus         `json:"status"`
		Links  map[string]string `json:"links"`
	}

	Authorizer interface {
		Authenticate(r *http.Request) bool
		StartSession(c *gin.Context)
		ClearSession(w http.ResponseWriter)
	}
)

const (
	StatusQueued  JobStatus = "queued"
	StatusRunning JobStatus = "running"
	StatusDone    JobStatus = "done"
	StatusFailed  JobStatus = "failed"
)

const (
	EventProgress EventType = "progresso"
	EventError    EventType = "erro"
	EventDone     EventType = "concluido"
)

const DocxContentType ContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// Terminal reports whether the job will not change any more.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

func (e Event) Terminal() bool {
	return e.Type == EventError || e.Type == EventDone
}

// Credit reports whether the transaction adds money to the account.
func (t Transaction) Credit() bool {
	switch strings.ToUpper(strings.TrimSpace(t.Kind)) {
	case "C", "CREDITO", "CRÉDITO":
		return true
	}
	return false
}

// ResultName is the artifact name a job's document is stored under.
func ResultName(id ID) string {
	return "movimentacao_" + string(id) + ".docx"
}

func Progress(page, total int, message string) Event {
	return Event{Type: EventProgress, Page: &page, Total: &total, Message: message}
}

func Failure(message string) Event {
	return Event{Type: EventError, Message: message}
}

func Completed(file string, transactions int, message string) Event {
	return Event{Type: EventDone, File: file, Transactions: transactions, Message: message}
}
