package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/servedir/internal/config"
	"github.com/conneroisu/servedir/internal/fstree"
	"github.com/conneroisu/servedir/internal/logging"
	"github.com/conneroisu/servedir/internal/metrics"
	"github.com/conneroisu/servedir/internal/plugins"
	"github.com/conneroisu/servedir/internal/server"
	"github.com/conneroisu/servedir/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:     "serve [directory]",
	Aliases: []string{"s"},
	Short:   "Serve a directory",
	Long: `Serve a directory over HTTP.

Plugins are consulted in the order they are enabled and the last plugin
to produce output for a file wins. --hl and --md enable the highlighter
and Markdown plugins in that order, so Markdown files are rendered rather
than highlighted when both are on.

Examples:
  servedir serve                       # Serve the current directory
  servedir serve ./site -p 3000        # Serve ./site on port 3000
  servedir serve --hl --md             # Highlight code and render Markdown
  servedir serve --no-watch            # Refresh only when files are requested`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.IntP("port", "p", 8080, "Port to serve on")
	flags.String("host", "localhost", "Host to bind to")
	flags.Bool("hl", false, "Enable the syntax highlighter plugin")
	flags.Bool("md", false, "Enable the Markdown plugin")
	flags.Bool("no-watch", false, "Don't watch the directory for changes")
	flags.Bool("no-compress", false, "Don't gzip responses")
	flags.String("stylesheet", "", "Stylesheet URL linked from directory listings")

	viper.BindPFlag("server.port", flags.Lookup("port"))
	viper.BindPFlag("server.host", flags.Lookup("host"))
	viper.BindPFlag("server.stylesheet", flags.Lookup("stylesheet"))
}

func runServe(cmd *cobra.Command, args []string) error {
	applyServeFlags(cmd.Flags(), args)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	enabled, err := plugins.NewRegistry(logger).Build(ctx, &cfg.Plugins)
	if err != nil {
		return err
	}

	tree, err := fstree.New(cfg.Root.Directory, enabled,
		fstree.WithLogger(logger),
		fstree.WithMetrics(m),
		fstree.WithStylesheet(cfg.Server.Stylesheet),
		fstree.WithScripts(server.Scripts(&cfg.Server)...),
	)
	if err != nil {
		return err
	}
	defer tree.Close()

	srv := server.New(cfg, tree, logger, m)

	if cfg.Root.Watch {
		fw, err := startWatcher(ctx, cfg, tree, srv, logger)
		if err != nil {
			logger.Warn(ctx, err, "File watching disabled")
		} else {
			defer fw.Stop()
		}
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, err, "Error during server shutdown")
		}
	}()

	fmt.Printf("Serving %s at http://%s\n", tree.Root().Path(), cfg.Addr())
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// applyServeFlags copies the flags that don't map one to one onto a
// config key into viper
func applyServeFlags(flags *pflag.FlagSet, args []string) {
	if len(args) > 0 {
		viper.Set("root.directory", args[0])
	}
	if noWatch, _ := flags.GetBool("no-watch"); noWatch {
		viper.Set("root.watch", false)
	}
	if noCompress, _ := flags.GetBool("no-compress"); noCompress {
		viper.Set("server.compress", false)
	}

	var requested []string
	if hl, _ := flags.GetBool("hl"); hl {
		requested = append(requested, config.PluginHighlighter)
	}
	if md, _ := flags.GetBool("md"); md {
		requested = append(requested, config.PluginMarkdown)
	}
	if len(requested) > 0 {
		viper.Set("plugins.enabled", appendMissing(viper.GetStringSlice("plugins.enabled"), requested...))
	}
}

// appendMissing appends each name not already in list, keeping order
func appendMissing(list []string, names ...string) []string {
	out := append([]string(nil), list...)
	for _, name := range names {
		found := false
		for _, existing := range out {
			if existing == name {
				found = true
				break
			}
		}
		if !found {
			out = append(out, name)
		}
	}
	return out
}

// startWatcher refreshes the tree and notifies live reload clients when
// files below the root change
func startWatcher(ctx context.Context, cfg *config.Config, tree *fstree.Tree, srv *server.Server, logger logging.Logger) (*watcher.FileWatcher, error) {
	fw, err := watcher.NewFileWatcher(cfg.Root.Debounce, logger)
	if err != nil {
		return nil, err
	}
	fw.AddFilter(watcher.IgnoreFilter(cfg.Root.Ignore...))
	fw.AddFilter(watcher.NoEditorFilter)
	fw.AddHandler(watcher.TreeHandler(tree))
	if cfg.Server.LiveReload {
		fw.AddHandler(srv.Broadcast)
	}

	if err := fw.AddRecursive(tree.Root().Path()); err != nil {
		fw.Stop()
		return nil, err
	}
	if err := fw.Start(ctx); err != nil {
		fw.Stop()
		return nil, err
	}
	return fw, nil
}
