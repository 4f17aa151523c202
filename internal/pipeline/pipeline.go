// Package pipeline turns an uploaded statement into a result document and runs that work
// in the background.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/devcubo3/trabalho-mae/internal/docx"
	"github.com/devcubo3/trabalho-mae/internal/extract"
	"github.com/devcubo3/trabalho-mae/internal/render"
	"github.com/devcubo3/trabalho-mae/internal/store"
	"github.com/devcubo3/trabalho-mae/internal/types"
)

// Emit receives progress events in order.
type Emit func(types.Event)

// ExtractorFactory builds an extractor bound to the caller's model API key.
type ExtractorFactory func(apiKey string) extract.Extractor

type Processor interface {
	Process(ctx context.Context, job types.Job, emit Emit) (types.Outcome, error)
}

type Pipeline struct {
	raster       render.Rasterizer
	newExtractor ExtractorFactory
	results      store.Results
	metrics      *Metrics
	logger       *slog.Logger
	now          func() time.Time
}

var _ Processor = (*Pipeline)(nil)

func New(raster render.Rasterizer, newExtractor ExtractorFactory, results store.Results, metrics *Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		raster:       raster,
		newExtractor: newExtractor,
		results:      results,
		metrics:      metrics,
		logger:       logger.With("component", "pipeline"),
		now:          time.Now,
	}
}

// Process reads job.UploadPath and stores the document under types.ResultName(job.ID).
// A failed page is reported through emit and skipped; the job only fails when no page
// yields entries or the document cannot be stored.
func (p *Pipeline) Process(ctx context.Context, job types.Job, emit Emit) (types.Outcome, error) {
	logger := p.logger.With("job", job.ID)

	emit(types.Progress(0, 0, "Iniciando processamento..."))
	emit(types.Progress(0, 0, "Convertendo PDF em imagens de alta resolução..."))

	started := p.now()
	doc, err := p.raster.Open(job.UploadPath)
	if err != nil {
		return types.Outcome{}, err
	}
	defer func() {
		if err := doc.Close(); err != nil {
			logger.Warn("failed to close document", "error", err)
		}
	}()
	total := doc.NumPages()
	p.metrics.observeStage("open", started)

	emit(types.Progress(0, total, fmt.Sprintf("PDF tem %d páginas. Enviando para análise da IA...", total)))

	extractor := p.newExtractor(job.APIKey)
	model := extract.DisplayName(extractor.Model())

	var (
		transactions []types.Transaction
		previousDate string
	)
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return types.Outcome{Pages: total}, err
		}
		number := i + 1
		emit(types.Progress(number, total, fmt.Sprintf("Analisando página %d de %d com %s Vision...", number, total, model)))

		result, err := p.page(ctx, doc, extractor, number, previousDate)
		if err != nil {
			if ctx.Err() != nil {
				return types.Outcome{Pages: total}, ctx.Err()
			}
			p.metrics.page("failed")
			logger.Warn("page failed", "page", number, "error", err)
			emit(types.Progress(number, total, fmt.Sprintf("ERRO página %d: %v", number, err)))
			continue
		}
		p.metrics.page("ok")

		if len(result.Transactions) == 0 {
			notes := result.Notes
			if notes == "" {
				notes = "Sem lançamentos"
			}
			emit(types.Progress(number, total, fmt.Sprintf("Página %d: %s", number, notes)))
			continue
		}

		if last := extract.LastDate(result.Transactions); last != "" {
			previousDate = last
		}
		transactions = append(transactions, result.Transactions...)
		emit(types.Progress(number, total, fmt.Sprintf("Página %d: %d lançamentos extraídos.", number, len(result.Transactions))))
	}

	if len(transactions) == 0 {
		return types.Outcome{Pages: total}, types.ErrNoTransactions
	}

	extract.FillDates(transactions)

	emit(types.Progress(total, total, fmt.Sprintf("Gerando documento DOCX com %d lançamentos...", len(transactions))))

	started = p.now()
	var buf bytes.Buffer
	if err := docx.Write(&buf, docx.Statement{
		Account:      job.Account,
		Transactions: transactions,
		Now:          p.now(),
	}); err != nil {
		return types.Outcome{Pages: total}, err
	}

	name := types.ResultName(job.ID)
	if _, err := p.results.Put(ctx, name, &buf); err != nil {
		return types.Outcome{Pages: total}, fmt.Errorf("store result: %w", err)
	}
	p.metrics.observeStage("document", started)

	logger.Info("result stored", "result", name, "pages", total, "transactions", len(transactions))

	return types.Outcome{
		Result:       name,
		Pages:        total,
		Transactions: len(transactions),
	}, nil
}

func (p *Pipeline) page(ctx context.Context, doc render.Document, extractor extract.Extractor, number int, previousDate string) (types.PageResult, error) {
	started := p.now()
	image, err := doc.PagePNG(ctx, number-1)
	if err != nil {
		return types.PageResult{}, err
	}
	p.metrics.observeStage("render", started)

	started = p.now()
	defer p.metrics.observeStage("extract", started)
	return extractor.Extract(ctx, extract.Page{
		Number:       number,
		PNG:          image,
		PreviousDate: previousDate,
	})
}
