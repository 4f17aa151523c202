package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/devcubo3/trabalho-mae/internal/pipeline"
	"github.com/devcubo3/trabalho-mae/internal/render"
	"github.com/devcubo3/trabalho-mae/internal/store/fs"
	"github.com/devcubo3/trabalho-mae/internal/types"
)

func newProcessCmd(g *globals) *cobra.Command {
	var (
		out     string
		apiKey  string
		account types.Account
	)

	cmd := &cobra.Command{
		Use:   "process <pdf>",
		Short: "Process one statement locally and write its DOCX",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.cfg
			if apiKey == "" {
				apiKey = cfg.OpenAI.APIKey
			}
			if apiKey == "" {
				return errors.New("an API key is required: pass --api-key or set OPENAI_API_KEY")
			}
			if account.Bank == "" {
				account.Bank = cfg.Account.Bank
			}
			if account.Branch == "" {
				account.Branch = cfg.Account.Branch
			}
			if account.Number == "" {
				account.Number = cfg.Account.Number
			}

			source, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(source); err != nil {
				return err
			}

			if out == "" {
				out = cfg.Storage.ResultDir
			}
			results, err := fs.New(out)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, cfg.Pipeline.JobTimeout)
			defer cancel()

			p := pipeline.New(render.MuPDF{DPI: cfg.Pipeline.DPI}, extractorFactory(cfg, g.logger), results, nil, g.logger)
			w := cmd.OutOrStdout()
			outcome, err := p.Process(ctx, types.Job{
				ID:         types.ID(uuid.New().String()),
				SourceName: types.Filename(filepath.Base(source)),
				Account:    account,
				UploadPath: source,
				APIKey:     apiKey,
			}, func(ev types.Event) {
				if ev.Page != nil && ev.Total != nil && *ev.Total > 0 {
					fmt.Fprintf(w, "[%d/%d] %s\n", *ev.Page, *ev.Total, ev.Message)
					return
				}
				fmt.Fprintln(w, ev.Message)
			})
			if err != nil {
				return errors.New(pipeline.FailureMessage(err))
			}

			fmt.Fprintf(w, "Concluído! %d lançamentos processados.\n%s\n", outcome.Transactions, filepath.Join(results.Dir(), outcome.Result))
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "directory for the DOCX (default: storage.result_dir)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "model API key (default: OPENAI_API_KEY)")
	cmd.Flags().StringVar(&account.Bank, "banco", "", "bank printed in the document")
	cmd.Flags().StringVar(&account.Branch, "agencia", "", "branch printed in the document")
	cmd.Flags().StringVar(&account.Number, "conta", "", "account number printed in the document")
	return cmd
}
