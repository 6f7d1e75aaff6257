// Command despacho runs the dispatch log web service.
//
//	despacho serve          API + static files
//	despacho serve-commit   only the GitHub append endpoint, on every path
//	despacho export         CSV of all records to stdout or a file
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kjk/despacho/api"
	"github.com/kjk/despacho/config"
	"github.com/kjk/despacho/httputil"
	"github.com/kjk/despacho/log"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
	appName = "despacho"

	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Dispatch log for field technicians",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&envFile, "env", ".env", "file with environment variables, loaded if it exists")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(envFile)
		if err != nil {
			return nil, err
		}
		log.Verbose = cfg.Verbose
		return cfg, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the API and static files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "serve-commit",
		Short: "Serve only the endpoint appending records to the GitHub file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServeCommit(cmd.Context(), cfg)
		},
	})

	var out string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write all records as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runExport(cmd.Context(), cfg, out)
		},
	}
	exportCmd.Flags().StringVarP(&out, "out", "o", "", "output file, stdout if empty")
	cmd.AddCommand(exportCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	})

	return cmd
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := signalContext(ctx)
	defer cancel()

	log.Init(&log.Config{Dir: cfg.LogDir})
	defer log.Close()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := httputil.NewServer(cfg.HTTPAddr, a.Handler())
	log.Logf("serving on %s, backend: %s, kv: %s, index: %s\n", cfg.HTTPAddr, cfg.Backend, cfg.KVDriver, cfg.IndexDriver)
	err = httputil.RunServer(ctx, srv, shutdownTimeout)
	log.Logf("server stopped\n")
	return err
}

func runServeCommit(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := signalContext(ctx)
	defer cancel()

	log.Init(&log.Config{Dir: cfg.LogDir})
	defer log.Close()

	h, _ := newCommitHandler(cfg)
	srv := httputil.NewServer(cfg.HTTPAddr, api.NewCommitServer(h))
	log.Logf("serving commit endpoint on %s for %s/%s\n", cfg.HTTPAddr, cfg.GitHubOwner, cfg.GitHubRepo)
	return httputil.RunServer(ctx, srv, shutdownTimeout)
}

func runExport(ctx context.Context, cfg *config.Config, out string) (err error) {
	ctx, cancel := signalContext(ctx)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	w := os.Stdout
	if out != "" {
		f, ferr := os.Create(out)
		if ferr != nil {
			return ferr
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	}
	n, err := a.svc.ExportCSV(ctx, w)
	if err != nil {
		return err
	}
	if out != "" {
		fmt.Fprintf(os.Stderr, "wrote %d records to %s\n", n, out)
	}
	return nil
}
