package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"content-pilot/internal/config"
	"content-pilot/internal/importer"
	"content-pilot/internal/logging"
	"content-pilot/internal/model"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	logger     *zap.Logger
	cfg        config.Config
	configPath string
	redisAddr  string
	badgerPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "pilot",
	Short:         "content-pilot - content lifecycle and publication engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("redis") {
			cfg.Store.RedisAddr = redisAddr
		}
		if cmd.Flags().Changed("badger") {
			cfg.Store.BadgerPath = badgerPath
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Logging.Level = logLevel
		}
		logger, err = logging.New(cfg.Logging.Level, cfg.Logging.Development)
		return err
	},
}

type valueLogCollector interface {
	RunValueLogGC(ctx context.Context, interval time.Duration, onErr func(error))
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the admin API, the scheduler and the import worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		// Setup Manual 'q' input handling
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				if scanner.Text() == "q" {
					fmt.Println(" 'q' pressed. Stopping...")
					cancel()
					return
				}
			}
		}()

		a, err := newApp(cfg, logger, false)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := a.server()
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Start(cfg.Server.Addr) })
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		})
		g.Go(func() error {
			a.scheduler.Start(gctx)
			return nil
		})
		if gc, ok := a.store.(valueLogCollector); ok {
			g.Go(func() error {
				gc.RunValueLogGC(gctx, 5*time.Minute, func(err error) {
					logger.Warn("Badger value log GC failed", zap.Error(err))
				})
				return nil
			})
		}
		if w := a.importWorker(); w != nil {
			g.Go(func() error {
				w.Start(gctx)
				return nil
			})
		}

		logger.Info("Server running.", zap.String("addr", cfg.Server.Addr), zap.String("store", cfg.Store.Backend))
		fmt.Println("Press 'q' + Enter or Ctrl+C to stop.")

		err = g.Wait()
		logger.Info("Goodbye!")
		return err
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate [topic]",
	Short: "Compose an approved article for a topic, or for a trending one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg, logger, false)
		if err != nil {
			return err
		}
		defer a.Close()

		var article *model.Article
		if len(args) == 1 {
			article, err = a.composer.FromTopic(cmd.Context(), args[0])
		} else {
			article, err = a.composer.FromTrending(cmd.Context())
		}
		if err != nil {
			return err
		}
		logger.Info("Article generated", zap.String("id", article.ID.String()), zap.String("title", article.Title))
		return printJSON(cmd, article)
	},
}

var importCmd = &cobra.Command{
	Use:   "import [url]",
	Short: "Import a web page as a draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := strings.TrimSpace(args[0])
		if err := importer.Validate(url); err != nil {
			return err
		}

		// With Redis available the running server's worker does the import, and
		// the Badger file lock stays with the server.
		a, err := newApp(cfg, logger, true)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.queue != nil {
			if err := a.queue.EnqueueImport(cmd.Context(), url); err != nil {
				return fmt.Errorf("queue import: %w", err)
			}
			logger.Info("Import queued", zap.String("url", url))
			return nil
		}
		article, err := a.importer.Import(cmd.Context(), url)
		if err != nil {
			return err
		}
		return printJSON(cmd, article)
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish [article-id]",
	Short: "Publish an approved article now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid article id %q: %w", args[0], err)
		}
		a, err := newApp(cfg, logger, false)
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.ctrl.Publish(cmd.Context(), id, nil)
		if err != nil {
			return err
		}
		logger.Info(out.Message(), zap.String("id", id.String()), zap.String("url", out.Article.URL))
		return nil
	},
}

func switchCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg, logger, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.sw.SetEnabled(cmd.Context(), enabled); err != nil {
				return err
			}
			logger.Info("Auto-publish switch updated", zap.Bool("enabled", enabled))
			return nil
		},
	}
}

var runCmd = &cobra.Command{
	Use:   "run [job]",
	Short: "Run one scheduled job immediately and print its report",
	Long:  "Jobs: auto-publish-one, ctr-optimize-batch, content-refresh-batch.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg, logger, false)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.scheduler.RunNow(cmd.Context(), args[0])
		if perr := printJSON(cmd, report); perr != nil {
			return errors.Join(err, perr)
		}
		return err
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print dashboard overview, top articles and topic memory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg, logger, true)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		overview, err := a.dashboard.Overview(ctx)
		if err != nil {
			return err
		}
		top, err := a.dashboard.Top(ctx, 0)
		if err != nil {
			return err
		}
		lowView, err := a.dashboard.LowView(ctx, 0)
		if err != nil {
			return err
		}
		topics, err := a.dashboard.Topics(ctx, 0)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{
			"overview": overview,
			"top":      top,
			"low_view": lowView,
			"topics":   topics,
		})
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (default $CONTENT_PILOT_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "localhost:6379", "Address of Redis server")
	rootCmd.PersistentFlags().StringVar(&badgerPath, "badger", "./badger-data", "Path to BadgerDB data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(switchCmd("pause", "Pause scheduled auto-publishing", false))
	rootCmd.AddCommand(switchCmd("resume", "Resume scheduled auto-publishing", true))
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statsCmd)

	err := rootCmd.Execute()
	if logger != nil {
		_ = logger.Sync()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
