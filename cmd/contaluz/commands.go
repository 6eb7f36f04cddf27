package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/contaluz/internal/cli"
	"github.com/hyperjump/contaluz/internal/ingest"
	"github.com/hyperjump/contaluz/internal/models"
	"github.com/hyperjump/contaluz/internal/server"
	"github.com/hyperjump/contaluz/internal/watcher"
)

// withComponents loads config, initializes every service, runs fn and releases them.
func withComponents(fn func(ctx context.Context, c *Components) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	c, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, c)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries work the same
// with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// parseFilter turns repeated field=value flags into a record filter.
func parseFilter(pairs []string) (models.Filter, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filter := make(models.Filter, len(pairs))
	for _, pair := range pairs {
		field, value, ok := strings.Cut(pair, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid filter %q, want field=value", pair)
		}
		filter[field] = strings.TrimSpace(value)
	}
	return filter, nil
}

func newBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]"+description+"[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
		progressbar.OptionSetWriter(os.Stderr),
	)
}

func newServerCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withComponents(func(ctx context.Context, c *Components) error {
				cfg := c.Config
				if watch || cfg.Server.Watch {
					in := c.NewIngester()
					w := newWatcher(c, in)
					if err := w.Start(ctx); err != nil {
						return fmt.Errorf("failed to start watcher: %w", err)
					}
					defer w.Stop()
					w.SyncExistingFiles()
				}

				srv := server.NewServer(c.Search, c.Indices, c.Docs, &cfg.Server,
					server.WithLogger(c.Logger),
					server.WithCache(c.Cache),
				)
				errCh := make(chan error, 1)
				go func() { errCh <- srv.Start() }()

				select {
				case err := <-errCh:
					if !errors.Is(err, http.ErrServerClosed) {
						return fmt.Errorf("server failed: %w", err)
					}
					return nil
				case <-ctx.Done():
				}
				c.Logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				return srv.Stop(shutdownCtx)
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "ingest bills from the configured directories as they change")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		serverURL string
		k         int
		indexID   string
		filters   []string
		skipExact bool
		output    string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search clients, invoices and analyses",
		Long: `Search runs the exact tier first: client numbers, installation numbers and invoice
numbers found in the query return the stored record directly. Anything else is embedded
and matched against the vector index.

Examples:
  contaluz search 123456
  contaluz search "fatura de fevereiro com bandeira amarela" --filter cliente_id=c1
  contaluz search --server http://localhost:8080 --output json consumo médio`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			filter, err := parseFilter(filters)
			if err != nil {
				return err
			}
			query := &models.SearchQuery{
				Query:     buildSearchQuery(args),
				K:         k,
				Filter:    filter,
				IndexID:   indexID,
				SkipExact: skipExact,
			}
			if query.Query == "" {
				return cmd.Usage()
			}
			if serverURL != "" {
				response, err := searchViaHTTP(cmd.Context(), serverURL, query)
				if err != nil {
					return fmt.Errorf("search failed: %w", err)
				}
				return cli.WriteSearchResults(cmd.OutOrStdout(), response, format)
			}
			return withComponents(func(ctx context.Context, c *Components) error {
				response, err := c.Search.Search(ctx, query)
				if err != nil {
					return fmt.Errorf("search failed: %w", err)
				}
				return cli.WriteSearchResults(cmd.OutOrStdout(), response, format)
			})
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "server URL (empty = use direct storage)")
	cmd.Flags().IntVarP(&k, "limit", "k", 0, "number of results (0 = configured default)")
	cmd.Flags().StringVar(&indexID, "index", "", "index to search (empty = default index)")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "equality filter field=value (repeatable)")
	cmd.Flags().BoolVar(&skipExact, "semantic-only", false, "skip the exact lookup tier")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

func newClientCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "client <client-number>",
		Short: "Show a client and their invoices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			return withComponents(func(ctx context.Context, c *Components) error {
				rec, ok, err := c.Search.FindClientByNumber(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("client %s not found", args[0])
				}
				client, _ := rec.Field("cliente_id")
				invoices, err := c.Search.InvoicesForClient(ctx, client)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if format == cli.OutputJSON {
					return cli.WriteJSON(w, map[string]any{"client": rec, "invoices": invoices})
				}
				fmt.Fprintf(w, "%s\n\n", rec.Text())
				for _, inv := range invoices {
					month, _ := inv.Field("mes_referencia")
					fmt.Fprintf(w, "  %s  %s\n", month, inv.Text())
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

func newEmbedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "embed <text>",
		Short: "Print the embedding of a text as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *Components) error {
				vec, err := c.Search.Embed(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				return cli.WriteJSON(cmd.OutOrStdout(), map[string]any{
					"model":      c.Provider.Model(),
					"dimensions": len(vec),
					"embedding":  vec,
				})
			})
		},
	}
}

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [dir...]",
		Short: "Store and index bill exports",
		Long: `Ingest reads every bill export under the given directories (or the configured ingest
directories), stores its client, invoice and analysis records, and embeds the new and changed
ones into the default index.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *Components) error {
				dirs := args
				if len(dirs) == 0 {
					dirs = c.Config.Ingest.Directories
				}
				var bar *progressbar.ProgressBar
				in := c.NewIngester(ingest.WithProgress(ingestProgress(&bar)))
				summary, err := in.IngestAll(ctx, dirs)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Ingested %d file(s):\n", summary.Files)
				cli.WriteCounts(w, map[string]int{
					"inserted":  summary.Inserted,
					"updated":   summary.Updated,
					"unchanged": summary.Unchanged,
					"removed":   summary.Removed,
					"indexed":   summary.Indexed,
					"degraded":  summary.Degraded,
				})
				if len(summary.Failed) > 0 {
					fmt.Fprintf(w, "\nFailed:\n")
					for _, path := range summary.Failed {
						fmt.Fprintf(w, "  - %s\n", path)
					}
				}
				return nil
			})
		},
	}
}

func ingestProgress(bar **progressbar.ProgressBar) func(path string, done, total int) {
	return func(_ string, done, total int) {
		if *bar == nil {
			*bar = newBar(total, "Ingesting")
		}
		_ = (*bar).Set(done)
	}
}

func newRebuildCmd() *cobra.Command {
	var indexID string
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Re-embed every stored record into an index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withComponents(func(ctx context.Context, c *Components) error {
				id := indexID
				if id == "" {
					id = c.Search.DefaultIndexID()
				}
				var bar *progressbar.ProgressBar
				result, err := c.Search.RebuildFromStore(ctx, id, func(done, total int) {
					if bar == nil {
						bar = newBar(total, "Embedding")
					}
					_ = bar.Set(done)
				})
				if err != nil {
					return err
				}
				version, err := c.Indices.Persist(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt %s: %d record(s) indexed, %d degraded, version %d (%s)\n",
					result.IndexID, result.Indexed, result.Degraded, version, result.Duration.Round(time.Millisecond))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&indexID, "index", "", "index id (empty = default index)")
	return cmd
}

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Inspect and snapshot vector indices",
	}
	var snapshot uint64
	load := &cobra.Command{
		Use:   "load <id>",
		Short: "Load a persisted snapshot (latest complete version by default)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *Components) error {
				if err := c.Indices.Load(ctx, args[0], snapshot); err != nil {
					return err
				}
				h, _ := c.Indices.Info(args[0])
				fmt.Fprintf(cmd.OutOrStdout(), "Loaded %s version %d (%d vectors)\n", h.ID, h.Version, h.VectorCount)
				return nil
			})
		},
	}
	load.Flags().Uint64Var(&snapshot, "version", 0, "snapshot version (0 = latest)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List indices restored from disk",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withComponents(func(_ context.Context, c *Components) error {
					cli.WriteIndexTable(cmd.OutOrStdout(), c.Indices.List())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "info <id>",
			Short: "Show one index and its snapshot versions",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withComponents(func(_ context.Context, c *Components) error {
					h, ok := c.Indices.Info(args[0])
					if !ok {
						return fmt.Errorf("index %s not found", args[0])
					}
					versions, err := c.Indices.Registry().Versions(args[0])
					if err != nil {
						return err
					}
					return cli.WriteJSON(cmd.OutOrStdout(), map[string]any{"index": h, "versions": versions})
				})
			},
		},
		&cobra.Command{
			Use:   "persist <id>",
			Short: "Write a new snapshot version of an index",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withComponents(func(ctx context.Context, c *Components) error {
					v, err := c.Indices.Persist(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Persisted %s version %d\n", args[0], v)
					return nil
				})
			},
		},
		load,
	)
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored record counts and indices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withComponents(func(ctx context.Context, c *Components) error {
				byType, err := c.Docs.CountByType(ctx)
				if err != nil {
					return err
				}
				counts := make(map[string]int, len(byType))
				for t, n := range byType {
					counts[string(t)] = int(n)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintln(w, "records:")
				cli.WriteCounts(w, counts)
				fmt.Fprintf(w, "embedding_model:  %s\ncached_vectors:   %d\n\n", c.Provider.Model(), c.Cache.Len())
				cli.WriteIndexTable(w, c.Indices.List())
				return nil
			})
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Ingest bills from the configured directories as they change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withComponents(func(ctx context.Context, c *Components) error {
				w := newWatcher(c, c.NewIngester())
				if err := w.Start(ctx); err != nil {
					return err
				}
				defer w.Stop()
				w.SyncExistingFiles()
				c.Logger.Info("watching", zap.Strings("directories", w.Directories()))
				<-ctx.Done()
				return nil
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "contaluz version %s\n", version)
		},
	}
}

func newWatcher(c *Components, in *ingest.Ingester) *watcher.Watcher {
	logger := c.Logger
	return watcher.New(
		c.Config.Ingest.Directories,
		in.Match,
		c.Config.Ingest.RecursiveOrDefault(),
		func(ctx context.Context, path string) {
			if _, err := in.IngestFile(ctx, path); err != nil {
				logger.Warn("watch ingest failed", zap.String("path", path), zap.Error(err))
			}
		},
		func(ctx context.Context, path string) {
			if _, err := in.RemoveFile(ctx, path); err != nil {
				logger.Warn("watch remove failed", zap.String("path", path), zap.Error(err))
			}
		},
		watcher.WithLogger(logger),
	)
}
