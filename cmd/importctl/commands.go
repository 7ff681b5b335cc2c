package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rpattn/bulkimport/internal/app"
	"github.com/rpattn/bulkimport/internal/auth"
	"github.com/rpattn/bulkimport/internal/config"
	"github.com/rpattn/bulkimport/internal/domain"
	"github.com/rpattn/bulkimport/internal/export"
	"github.com/rpattn/bulkimport/internal/ingestion"
)

type globalOptions struct {
	configDir string
	store     string
	sqliteDSN string
	tenant    string
	user      string

	tenantID uuid.UUID
	userID   uuid.UUID
}

func newRootCmd() *cobra.Command {
	var opts globalOptions

	root := &cobra.Command{
		Use:           "importctl",
		Short:         "Run bulk inventory imports and inspect import jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(strings.TrimSpace(opts.tenant))
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("invalid --tenant: %w", err))
			}
			opts.tenantID = id
			if strings.TrimSpace(opts.user) == "" {
				opts.userID = uuid.New()
				return nil
			}
			if opts.userID, err = uuid.Parse(strings.TrimSpace(opts.user)); err != nil {
				return withCode(exitUsage, fmt.Errorf("invalid --user: %w", err))
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configDir, "config", "", "Directory containing config.yaml")
	flags.StringVar(&opts.store, "store", "", "Override store driver: postgres or sqlite")
	flags.StringVar(&opts.sqliteDSN, "sqlite-dsn", "", "Override the SQLite DSN")
	flags.StringVar(&opts.tenant, "tenant", "", "Tenant UUID (required)")
	flags.StringVar(&opts.user, "user", "", "User UUID recorded on jobs (default: random)")
	_ = root.MarkPersistentFlagRequired("tenant")

	root.AddCommand(newImportCmd(&opts), newJobsCmd(&opts))
	return root
}

// open loads configuration, applies flag overrides and builds the service.
func (o *globalOptions) open(ctx context.Context) (*app.App, context.Context, error) {
	cfg, err := config.Load(o.configDir)
	if err != nil {
		return nil, nil, err
	}
	if o.store != "" {
		cfg.Store.Driver = strings.ToLower(strings.TrimSpace(o.store))
	}
	if o.sqliteDSN != "" {
		cfg.Store.SQLiteDSN = o.sqliteDSN
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, withCode(exitUsage, err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return a, auth.ContextWithIdentity(ctx, o.identity()), nil
}

func (o *globalOptions) identity() auth.Identity {
	return auth.Identity{UserID: o.userID, TenantID: o.tenantID, Roles: []string{auth.RoleImport}}
}

type importOptions struct {
	kind    string
	dryRun  bool
	mapping map[string]string
}

func newImportCmd(global *globalOptions) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a CSV or XLSX file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, global, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.kind, "kind", "", "Import kind: product-costs, suppliers or historical-sales (required)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Validate without writing")
	cmd.Flags().StringToStringVar(&opts.mapping, "map", nil, "Column mapping as header=field, repeatable")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func runImport(cmd *cobra.Command, global *globalOptions, opts importOptions, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return withCode(exitUsage, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return err
	}

	a, ctx, err := global.open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.Service.Import(ctx, ingestion.ImportRequest{
		Kind:      opts.kind,
		FileName:  filepath.Base(path),
		FileSize:  info.Size(),
		File:      file,
		DryRun:    opts.dryRun,
		Mapping:   opts.mapping,
		CSRFToken: a.Signer.Sign(global.identity(), time.Now()),
	})
	if encErr := writeJSON(cmd.OutOrStdout(), result); encErr != nil {
		return encErr
	}
	if err != nil {
		return withCode(exitFailure, fmt.Errorf("%s", result.SummaryMessage))
	}
	if result.ErrorCount != nil && *result.ErrorCount > 0 {
		return withCode(exitRowErrors, fmt.Errorf("%s", result.SummaryMessage))
	}
	return nil
}

func newJobsCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect import jobs of the tenant",
	}

	var limit, offset int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent import jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := global.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			jobs, total, err := a.Service.ListJobs(ctx, limit, offset)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"jobs": jobs, "total": total})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum jobs to return")
	list.Flags().IntVar(&offset, "offset", 0, "Jobs to skip")

	get := &cobra.Command{
		Use:   "get ID",
		Short: "Show one import job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJob(cmd, global, args[0], func(job domain.ImportJob) error {
				return writeJSON(cmd.OutOrStdout(), job)
			})
		},
	}

	var out string
	errorsCmd := &cobra.Command{
		Use:   "errors ID",
		Short: "Write the row error report of a job as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJob(cmd, global, args[0], func(job domain.ImportJob) error {
				w := cmd.OutOrStdout()
				if out != "" {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				_, err := export.WriteErrorReport(w, job)
				return err
			})
		},
	}
	errorsCmd.Flags().StringVarP(&out, "output", "o", "", "Write to file instead of stdout")

	cmd.AddCommand(list, get, errorsCmd)
	return cmd
}

func withJob(cmd *cobra.Command, global *globalOptions, rawID string, fn func(domain.ImportJob) error) error {
	id, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return withCode(exitUsage, fmt.Errorf("invalid job id: %w", err))
	}
	a, ctx, err := global.open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	job, err := a.Service.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return fn(job)
}

func writeJSON(w io.Writer, payload any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
