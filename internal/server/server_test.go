package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/devcubo3/trabalho-mae/config"
	"github.com/devcubo3/trabalho-mae/internal/auth"
	"github.com/devcubo3/trabalho-mae/internal/auth/fake_auth"
	"github.com/devcubo3/trabalho-mae/internal/intake"
	"github.com/devcubo3/trabalho-mae/internal/pipeline"
	"github.com/devcubo3/trabalho-mae/internal/server"
	"github.com/devcubo3/trabalho-mae/internal/store/db/fake_db"
	"github.com/devcubo3/trabalho-mae/internal/store/fs"
	"github.com/devcubo3/trabalho-mae/internal/types"
)

const samplePDF = "%PDF-1.4\n%statement\n%%EOF\n"

type processorFunc func(ctx context.Context, job types.Job, emit pipeline.Emit) (types.Outcome, error)

func (f processorFunc) Process(ctx context.Context, job types.Job, emit pipeline.Emit) (types.Outcome, error) {
	return f(ctx, job, emit)
}

type harness struct {
	server   *server.Server
	manager  *pipeline.Manager
	results  *fs.Store
	uploads  *intake.Intake
	registry *prometheus.Registry
}

type options struct {
	config     func(cfg *config.Config)
	processor  func(h *harness) pipeline.Processor
	authorizer types.Authorizer
}

func newHarness(t *testing.T, opts options) *harness {
	t.Helper()
	root := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Storage.UploadDir = filepath.Join(root, "uploads")
	cfg.Storage.ResultDir = filepath.Join(root, "resultados")
	if opts.config != nil {
		opts.config(cfg)
	}

	h := &harness{registry: prometheus.NewRegistry()}
	var err error
	h.uploads, err = intake.New(cfg.Storage.UploadDir, cfg.Server.MaxUploadSize, nil)
	require.NoError(t, err)
	h.results, err = fs.New(cfg.Storage.ResultDir)
	require.NoError(t, err)

	processor := succeed
	if opts.processor != nil {
		processor = opts.processor
	}
	h.manager, err = pipeline.NewManager(processor(h), fake_db.New(t), h.results, h.uploads, cfg.Pipeline, pipeline.MustNewMetrics(h.registry), nil)
	require.NoError(t, err)
	h.manager.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.manager.Stop(ctx)
	})

	authorizer := opts.authorizer
	if authorizer == nil {
		authorizer = auth.Open{}
	}
	h.server, err = server.New(cfg, server.Dependencies{
		Uploads:  h.uploads,
		Jobs:     h.manager,
		Results:  h.results,
		Auth:     authorizer,
		Gatherer: h.registry,
		Probes: map[string]server.Probe{
			"uploads": func(context.Context) error { return h.uploads.CheckWritable() },
			"results": func(context.Context) error { return h.results.CheckWritable() },
		},
	})
	require.NoError(t, err)
	t.Cleanup(h.server.Close)
	return h
}

func succeed(h *harness) pipeline.Processor {
	return processorFunc(func(ctx context.Context, job types.Job, emit pipeline.Emit) (types.Outcome, error) {
		emit(types.Progress(0, 0, "Iniciando processamento..."))
		emit(types.Progress(1, 1, "Página 1: 2 lançamentos extraídos."))
		name := types.ResultName(job.ID)
		if _, err := h.results.Put(ctx, name, strings.NewReader("PK docx")); err != nil {
			return types.Outcome{}, err
		}
		return types.Outcome{Result: name, Pages: 1, Transactions: 2}, nil
	})
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	return rec
}

type form struct {
	filename string
	contents string
	fields   map[string]string
}

func createMultipartFormBody(f form) (io.Reader, string) {
	var b bytes.Buffer
	bw := bufio.NewWriter(&b)
	mw := multipart.NewWriter(bw)

	if f.filename != "" {
		part, err := mw.CreateFormFile("pdf", f.filename)
		if err != nil {
			panic(err)
		}
		_, _ = io.Copy(part, strings.NewReader(f.contents))
	}
	for name, value := range f.fields {
		if err := mw.WriteField(name, value); err != nil {
			panic(err)
		}
	}

	_ = mw.Close()
	_ = bw.Flush()

	return bufio.NewReader(&b), mw.FormDataContentType()
}

func postForm(t *testing.T, path string, f form) *http.Request {
	t.Helper()
	body, contentType := createMultipartFormBody(f)
	req, err := http.NewRequest(http.MethodPost, path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	return req
}

func parseEvents(t *testing.T, body string) []types.Event {
	t.Helper()
	var events []types.Event
	for _, chunk := range strings.Split(body, "\n\n") {
		if chunk == "" {
			continue
		}
		require.True(t, strings.HasPrefix(chunk, "data: "), "bad chunk %q", chunk)
		var ev types.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(chunk, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func validForm() form {
	return form{
		filename: "extrato.pdf",
		contents: samplePDF,
		fields:   map[string]string{"api_key": "sk-test", "banco": "ITAU"},
	}
}

func TestAuth(t *testing.T) {
	for _, row := range []struct {
		description string
		body        string
		status      int
	}{
		{description: "authorized success", body: `{"secretKey": "hello"}`, status: http.StatusOK},
		{description: "authorized failed", body: `{"secretKey": "hello world"}`, status: http.StatusUnauthorized},
		{description: "authorized bad request", body: `{"secretKey_1": "hello world"}`, status: http.StatusBadRequest},
	} {
		t.Run(row.description, func(t *testing.T) {
			authorizer, err := auth.New("hello")
			require.NoError(t, err)
			h := newHarness(t, options{authorizer: authorizer})

			req, err := http.NewRequest(http.MethodPost, "/api/auth", strings.NewReader(row.body))
			require.NoError(t, err)
			req.Header.Add("Content-Type", "application/json")

			rec := h.do(req)
			require.Equal(t, row.status, rec.Code)
			if row.status != http.StatusOK {
				return
			}

			cookies := rec.Result().Cookies()
			require.Len(t, cookies, 1)

			req = httptest.NewRequest(http.MethodGet, "/download/missing.docx", nil)
			require.Equal(t, http.StatusUnauthorized, h.do(req).Code)
			req.AddCookie(cookies[0])
			require.Equal(t, http.StatusNotFound, h.do(req).Code)
		})
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	fa := fake_auth.New(false)
	h := newHarness(t, options{authorizer: fa})

	for _, req := range []*http.Request{
		postForm(t, "/processar", validForm()),
		postForm(t, "/api/jobs", validForm()),
		httptest.NewRequest(http.MethodGet, "/download/x.docx", nil),
		httptest.NewRequest(http.MethodGet, "/api/jobs/0b9e4f4e-6a3c-4d5e-9b0a-1f2e3d4c5b6a", nil),
	} {
		require.Equal(t, http.StatusUnauthorized, h.do(req).Code, req.URL.Path)
	}
	require.Equal(t, 4, fa.Cleared())

	// public routes stay reachable
	require.Equal(t, http.StatusOK, h.do(httptest.NewRequest(http.MethodGet, "/", nil)).Code)
	require.Equal(t, http.StatusOK, h.do(httptest.NewRequest(http.MethodGet, "/healthcheck", nil)).Code)
}

func TestProcessarStreamsEventsAndDownload(t *testing.T) {
	h := newHarness(t, options{})

	rec := h.do(postForm(t, "/processar", validForm()))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream; charset=utf-8", rec.Header().Get("Content-Type"))

	events := parseEvents(t, rec.Body.String())
	require.Len(t, events, 3)
	require.Equal(t, "Iniciando processamento...", events[0].Message)
	require.Equal(t, types.EventProgress, events[1].Type)
	require.Equal(t, 1, *events[1].Page)

	done := events[2]
	require.Equal(t, types.EventDone, done.Type)
	require.Equal(t, "Concluído! 2 lançamentos processados.", done.Message)
	require.Equal(t, 2, done.Transactions)
	require.Equal(t, types.ResultName(done.JobID), done.File)

	rec = h.do(httptest.NewRequest(http.MethodGet, "/download/"+done.File, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "PK docx", rec.Body.String())
	require.Equal(t, string(types.DocxContentType), rec.Header().Get("Content-Type"))
	require.Equal(t, `attachment; filename=`+done.File, rec.Header().Get("Content-Disposition"))

	job, err := h.manager.Get(context.Background(), done.JobID)
	require.NoError(t, err)
	require.Equal(t, "ITAU", job.Account.Bank)
	require.Equal(t, config.DefaultBranch, job.Account.Branch)
	require.Equal(t, types.Filename("extrato.pdf"), job.SourceName)
}

func TestProcessarRejectsBadInput(t *testing.T) {
	for _, row := range []struct {
		description string
		form        form
		message     string
	}{
		{
			description: "missing pdf",
			form:        form{fields: map[string]string{"api_key": "sk-test"}},
			message:     "PDF e chave API são obrigatórios",
		},
		{
			description: "missing api key",
			form:        form{filename: "a.pdf", contents: samplePDF},
			message:     "PDF e chave API são obrigatórios",
		},
		{
			description: "not a pdf",
			form:        form{filename: "a.png", contents: "\x89PNG\r\n", fields: map[string]string{"api_key": "sk-test"}},
			message:     "invalid upload: file is not a PDF",
		},
		{
			description: "account field too long",
			form:        form{filename: "a.pdf", contents: samplePDF, fields: map[string]string{"api_key": "sk-test", "conta": strings.Repeat("9", 65)}},
			message:     "invalid upload: conta is too long",
		},
	} {
		t.Run(row.description, func(t *testing.T) {
			h := newHarness(t, options{})

			rec := h.do(postForm(t, "/processar", row.form))
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

			events := parseEvents(t, rec.Body.String())
			require.Len(t, events, 1)
			require.Equal(t, types.EventError, events[0].Type)
			require.Equal(t, row.message, events[0].Message)
			require.Zero(t, h.manager.Active())
		})
	}
}

func TestMissingInputWireFormat(t *testing.T) {
	h := newHarness(t, options{})

	rec := h.do(postForm(t, "/processar", form{}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "data: {\"tipo\":\"erro\",\"mensagem\":\"PDF e chave API são obrigatórios\"}\n\n", rec.Body.String())
}

func TestServerAPIKeyIsFallback(t *testing.T) {
	var got string
	h := newHarness(t, options{
		config: func(cfg *config.Config) { cfg.OpenAI.APIKey = "sk-server" },
		processor: func(h *harness) pipeline.Processor {
			return processorFunc(func(ctx context.Context, job types.Job, emit pipeline.Emit) (types.Outcome, error) {
				got = job.APIKey
				return succeed(h).Process(ctx, job, emit)
			})
		},
	})

	rec := h.do(postForm(t, "/processar", form{filename: "a.pdf", contents: samplePDF}))
	require.Equal(t, http.StatusOK, rec.Code)
	// the stream only ends after the processor returned
	require.Equal(t, "sk-server", got)
}

func TestDownloadNotFound(t *testing.T) {
	h := newHarness(t, options{})

	for _, name := range []string{"missing.docx", ".hidden", "movimentacao_x.docx"} {
		rec := h.do(httptest.NewRequest(http.MethodGet, "/download/"+name, nil))
		require.Equal(t, http.StatusNotFound, rec.Code, name)
		require.Equal(t, "Arquivo não encontrado", rec.Body.String())
	}
}

func TestJobsAPI(t *testing.T) {
	h := newHarness(t, options{})

	rec := h.do(postForm(t, "/api/jobs", validForm()))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var posted types.JobPostResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posted))
	require.Equal(t, types.StatusQueued, posted.Status)
	require.Equal(t, "/api/jobs/"+string(posted.ID), posted.Links["self"])
	require.Equal(t, "/download/"+types.ResultName(posted.ID), posted.Links["download"])

	// the event stream replays the whole history and ends with the terminal event
	rec = h.do(httptest.NewRequest(http.MethodGet, posted.Links["events"], nil))
	require.Equal(t, http.StatusOK, rec.Code)
	events := parseEvents(t, rec.Body.String())
	require.Equal(t, types.EventDone, events[len(events)-1].Type)

	require.Eventually(t, func() bool { return h.manager.Active() == 0 }, 5*time.Second, 10*time.Millisecond)

	rec = h.do(httptest.NewRequest(http.MethodGet, posted.Links["self"], nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var job types.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Equal(t, types.StatusDone, job.Status)
	require.Equal(t, 2, job.Transactions)
	require.NotContains(t, rec.Body.String(), "sk-test")

	rec = h.do(httptest.NewRequest(http.MethodDelete, posted.Links["self"], nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	require.Equal(t, http.StatusNotFound, h.do(httptest.NewRequest(http.MethodGet, posted.Links["self"], nil)).Code)
	require.Equal(t, http.StatusNotFound, h.do(httptest.NewRequest(http.MethodGet, posted.Links["download"], nil)).Code)
	require.Equal(t, http.StatusNotFound, h.do(httptest.NewRequest(http.MethodDelete, posted.Links["self"], nil)).Code)
}

func TestJobsAPIBadID(t *testing.T) {
	h := newHarness(t, options{})

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec := h.do(httptest.NewRequest(method, "/api/jobs/not-a-uuid", nil))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}
	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/jobs/0b9e4f4e-6a3c-4d5e-9b0a-1f2e3d4c5b6a/events", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteRunningJobConflicts(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, options{
		processor: func(h *harness) pipeline.Processor {
			return processorFunc(func(ctx context.Context, job types.Job, emit pipeline.Emit) (types.Outcome, error) {
				select {
				case <-release:
				case <-ctx.Done():
					return types.Outcome{}, ctx.Err()
				}
				return succeed(h).Process(ctx, job, emit)
			})
		},
	})
	defer close(release)

	rec := h.do(postForm(t, "/api/jobs", validForm()))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var posted types.JobPostResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posted))

	rec = h.do(httptest.NewRequest(http.MethodDelete, posted.Links["self"], nil))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestStreamOutlivesRequestDeadline(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, options{
		config: func(cfg *config.Config) { cfg.Server.RequestTimeout = 100 * time.Millisecond },
		processor: func(h *harness) pipeline.Processor {
			return processorFunc(func(ctx context.Context, job types.Job, emit pipeline.Emit) (types.Outcome, error) {
				emit(types.Progress(0, 0, "Iniciando processamento..."))
				select {
				case <-release:
				case <-ctx.Done():
					return types.Outcome{}, ctx.Err()
				}
				return succeed(h).Process(ctx, job, emit)
			})
		},
	})

	rec := h.do(postForm(t, "/processar", validForm()))
	require.Equal(t, http.StatusOK, rec.Code)

	events := parseEvents(t, rec.Body.String())
	require.Len(t, events, 2)
	last := events[1]
	require.Equal(t, types.EventError, last.Type)
	require.Contains(t, last.Message, "/api/jobs/"+string(last.JobID))

	// the job carries on after the client's deadline
	close(release)
	require.Eventually(t, func() bool {
		job, err := h.manager.Get(context.Background(), last.JobID)
		return err == nil && job.Status == types.StatusDone
	}, 5*time.Second, 10*time.Millisecond)
}

func TestShutdownEndsOpenStreams(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, options{
		config: func(cfg *config.Config) { cfg.Server.ShutdownTimeout = 10 * time.Second },
		processor: func(h *harness) pipeline.Processor {
			return processorFunc(func(ctx context.Context, job types.Job, emit pipeline.Emit) (types.Outcome, error) {
				emit(types.Progress(0, 0, "Iniciando processamento..."))
				close(started)
				<-ctx.Done()
				return types.Outcome{}, ctx.Err()
			})
		},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- h.server.Serve(ctx, ln) }()

	req := postForm(t, "http://"+ln.Addr().String()+"/processar", validForm())
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	<-started
	begin := time.Now()
	cancel()

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown waited for the event stream")
	}
	require.Less(t, time.Since(begin), 5*time.Second)

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	events := parseEvents(t, string(body))
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, types.EventError, last.Type)
	require.Contains(t, last.Message, "Servidor reiniciando")
	require.Contains(t, last.Message, "/api/jobs/"+string(last.JobID))
}

type slowResults struct {
	*fs.Store
}

func (slowResults) Open(ctx context.Context, name string) (types.ArtifactReader, error) {
	<-ctx.Done()
	return types.ArtifactReader{}, ctx.Err()
}

func TestRequestTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.RequestTimeout = 50 * time.Millisecond

	h := newHarness(t, options{})
	s, err := server.New(cfg, server.Dependencies{
		Uploads: h.uploads,
		Jobs:    h.manager,
		Results: slowResults{h.results},
		Auth:    auth.Open{},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/slow.docx", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "request timeout", rec.Body.String())
}

func TestHealthcheck(t *testing.T) {
	h := newHarness(t, options{})

	rec := h.do(httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Ok", body["status"])
	require.Equal(t, map[string]any{"uploads": "ok", "results": "ok"}, body["storage"])
}

func TestHealthcheckReportsBrokenStorage(t *testing.T) {
	h := newHarness(t, options{})
	s, err := server.New(config.DefaultConfig(), server.Dependencies{
		Uploads: h.uploads,
		Jobs:    h.manager,
		Results: h.results,
		Auth:    auth.Open{},
		Probes: map[string]server.Probe{
			"results": func(context.Context) error { return io.ErrClosedPipe },
		},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"Unavailable"`)
}

func TestIndexPage(t *testing.T) {
	h := newHarness(t, options{})

	rec := h.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, "<!doctype html>"))
	for _, want := range []string{`name="pdf"`, `name="api_key"`, `value="BRADESCO"`, `"/processar"`} {
		require.Contains(t, body, want)
	}
}

func TestOptionalEndpoints(t *testing.T) {
	h := newHarness(t, options{config: func(cfg *config.Config) {
		cfg.Options.EnableStats = true
		cfg.Options.EnableHealth = true
		cfg.Options.EnablePrometheus = true
		cfg.Options.AllowedIPAddresses = []string{"192.0.2.0/24"}
	}})

	rec := h.do(httptest.NewRequest(http.MethodGet, "/sys/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// httptest requests come from 192.0.2.1
	rec = h.do(httptest.NewRequest(http.MethodGet, "/sys/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"jobs_active":0`)

	rec = h.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "extrator_pipeline_jobs_active")

	req := httptest.NewRequest(http.MethodGet, "/sys/info", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	require.Equal(t, http.StatusUnauthorized, h.do(req).Code)
}

func TestOptionalEndpointsDisabled(t *testing.T) {
	h := newHarness(t, options{})

	for _, path := range []string{"/sys/stats", "/sys/info", "/metrics"} {
		require.Equal(t, http.StatusNotFound, h.do(httptest.NewRequest(http.MethodGet, path, nil)).Code, path)
	}
}
