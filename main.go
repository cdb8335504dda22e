package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/zsprackett/devserve/internal/applog"
	"github.com/zsprackett/devserve/internal/config"
	"github.com/zsprackett/devserve/internal/pipeline"
	"github.com/zsprackett/devserve/internal/webserver"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		quiet      bool
		verbose    bool
		flagCfg    = config.Defaults()
	)
	cmd := &cobra.Command{
		Use:           "devserve [ROOT]",
		Short:         "Static development server with live reload",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := mergeFlags(cmd.Flags(), &cfg); err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Root = args[0]
			}
			switch {
			case quiet:
				cfg.Verbosity = applog.VerbosityQuiet
			case verbose:
				cfg.Verbosity = applog.VerbosityVerbose
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "config file (.json, .toml or .yaml)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "log errors only")
	cmd.Flags().BoolVarP(&verbose, "verbose", "V", false, "log every request")
	bindFlags(cmd.Flags(), &flagCfg)

	cmd.AddCommand(htpasswdCmd(), versionCmd())
	return cmd
}

// bindFlags registers every config-backed flag against c.
func bindFlags(fs *pflag.FlagSet, c *config.Config) {
	fs.StringVar(&c.Host, "host", c.Host, "address to bind")
	fs.IntVar(&c.Port, "port", c.Port, "port to listen on (0 picks a free port)")
	fs.StringSliceVar(&c.Open, "open", c.Open, "subpath to open in the browser (repeatable)")
	fs.BoolVar(&c.NoBrowser, "no-browser", c.NoBrowser, "do not open a browser")
	fs.StringVar(&c.Browser, "browser", c.Browser, "browser application to open")
	fs.StringSliceVar(&c.Watch, "watch", c.Watch, "paths to watch instead of the root")
	fs.StringSliceVar(&c.Ignore, "ignore", c.Ignore, "paths to ignore")
	fs.StringVar(&c.IgnorePattern, "ignore-pattern", c.IgnorePattern, "regular expression of paths to ignore")
	fs.BoolVar(&c.NoCSSInject, "no-css-inject", c.NoCSSInject, "reload the page on CSS changes")
	fs.StringVar(&c.EntryFile, "entry-file", c.EntryFile, "file served for missing paths")
	fs.BoolVar(&c.SPA, "spa", c.SPA, "redirect paths to /#/path")
	fs.IntVar(&c.Verbosity, "log-level", c.Verbosity, "verbosity 0-3")
	fs.StringArrayVar(&c.Mount, "mount", c.Mount, "ROUTE:PATH to serve a directory at a route")
	fs.StringArrayVar(&c.Proxy, "proxy", c.Proxy, "ROUTE:URL to forward a route upstream")
	fs.IntVar(&c.WaitMillis, "wait", c.WaitMillis, "milliseconds to coalesce changes per client")
	fs.StringVar(&c.Htpasswd, "htpasswd", c.Htpasswd, "htpasswd file enabling basic auth")
	fs.BoolVar(&c.CORS, "cors", c.CORS, "allow cross-origin requests")
	fs.StringVar(&c.HTTPS, "https", c.HTTPS, "TLS config file, or self-signed")
	fs.StringSliceVar(&c.Middleware, "middleware", c.Middleware, "named middleware stages")
	fs.BoolVar(&c.NoCompression, "no-compression", c.NoCompression, "disable gzip")
	fs.BoolVar(&c.Performance, "performance", c.Performance, "add X-Response-Time and /metrics")
	fs.BoolVar(&c.Security, "security", c.Security, "add security headers")
	fs.IntVar(&c.RateLimit, "rate-limit", c.RateLimit, "requests per minute per client (0 disables)")
	fs.BoolVar(&c.Upload, "upload", c.Upload, "accept POST /upload")
	fs.BoolVar(&c.NoHealth, "no-health", c.NoHealth, "disable /health")
	fs.BoolVar(&c.LogFile, "log-file", c.LogFile, "write a JSON request log")
	fs.StringVar(&c.LogDir, "log-dir", c.LogDir, "directory for the request log")
	fs.StringVar(&c.LogDB, "log-db", c.LogDB, "sqlite file recording requests and reloads")
	fs.BoolVar(&c.AutoRestart, "auto-restart", c.AutoRestart, "restart after server failures")
	fs.BoolVar(&c.Test, "test", c.Test, "exit shortly after starting")
	fs.BoolVar(&c.Tunnel.Enabled, "tunnel", c.Tunnel.Enabled, "expose the server through a tunnel")
	fs.StringVar(&c.Tunnel.Service, "tunnel-service", c.Tunnel.Service, "localtunnel, cloudflared, ngrok or pinggy")
	fs.StringVar(&c.Tunnel.Subdomain, "tunnel-subdomain", c.Tunnel.Subdomain, "requested tunnel subdomain")
	fs.StringVar(&c.Tunnel.AuthToken, "tunnel-authtoken", c.Tunnel.AuthToken, "tunnel service auth token")
	fs.StringVar(&c.Process.Exec, "exec", c.Process.Exec, "command to run instead of serving files")
	fs.StringVar(&c.Process.NPMScript, "npm-script", c.Process.NPMScript, "package.json script to run instead of serving files")
	fs.BoolVar(&c.Process.PM2, "pm2", c.Process.PM2, "run the command under pm2")
	fs.StringVar(&c.Process.PM2Name, "pm2-name", c.Process.PM2Name, "pm2 application name")
}

// mergeFlags copies the flags set on the command line onto cfg, leaving file
// values in place for everything else.
func mergeFlags(set *pflag.FlagSet, cfg *config.Config) error {
	dst := pflag.NewFlagSet("merge", pflag.ContinueOnError)
	bindFlags(dst, cfg)
	var err error
	set.Visit(func(f *pflag.Flag) {
		target := dst.Lookup(f.Name)
		if target == nil || err != nil {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			err = target.Value.(pflag.SliceValue).Replace(sv.GetSlice())
			return
		}
		err = target.Value.Set(f.Value.String())
	})
	return err
}

func run(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := applog.Init(applog.InitConfig{Verbosity: cfg.Verbosity})

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := webserver.Start(ctx, webserver.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-in.Done():
		return nil
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return in.Shutdown(sctx)
}

func htpasswdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "htpasswd USER [FILE]",
		Short: "Append a bcrypt entry for USER to an htpasswd file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, file := args[0], ".htpasswd"
			if len(args) == 2 {
				file = args[1]
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password for %s: ", user)
			pw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			line, err := pipeline.HtpasswdLine(user, pw)
			if err != nil {
				return err
			}
			f, err := os.OpenFile(file, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(f, line); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s to %s\n", user, file)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "devserve "+version)
		},
	}
}
