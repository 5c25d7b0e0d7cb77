package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/benjaminschreck/textstencil/pkg/stencil"
	"github.com/benjaminschreck/textstencil/pkg/stencil/el"
)

var (
	renderDataFile string
	renderMode     string
	renderRoot     string
	renderOutDir   string
	renderDeferred []string
	renderWatch    bool
	renderWorkers  int
)

var renderCmd = &cobra.Command{
	Use:   "render TEMPLATE...",
	Short: "Render templates with data",
	Long: `Render one or more templates found below --root.

Templates are rendered concurrently, each with its own interpreter over a
shared engine. With a single template and no --out-dir the result goes to
stdout; otherwise every result is written to --out-dir under the template's
own path.

In eager-deferred mode, names given with --defer are treated as not yet
known and the output is a template that can be rendered again later:

  stencil render --mode eager-deferred --defer user --data site.yaml page.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVarP(&renderDataFile, "data", "d", "", "JSON or YAML file with template data")
	renderCmd.Flags().StringVarP(&renderMode, "mode", "m", "", "execution mode: default, preserve-unresolved or eager-deferred")
	renderCmd.Flags().StringVarP(&renderRoot, "root", "r", ".", "directory templates, includes and imports are loaded from")
	renderCmd.Flags().StringVarP(&renderOutDir, "out-dir", "o", "", "write results below this directory")
	renderCmd.Flags().StringSliceVar(&renderDeferred, "defer", nil, "names to treat as deferred")
	renderCmd.Flags().BoolVarP(&renderWatch, "watch", "w", false, "render again whenever a template changes")
	renderCmd.Flags().IntVar(&renderWorkers, "workers", 4, "templates rendered in parallel")
}

func runRender(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := stencil.GetGlobalConfig()
	if renderMode != "" {
		cfg.ExecutionMode = stencil.ExecutionMode(renderMode)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	data, err := loadData(renderDataFile)
	if err != nil {
		return err
	}
	for _, name := range renderDeferred {
		data[name] = el.Deferred()
	}

	locator, err := stencil.NewFileLocator(renderRoot)
	if err != nil {
		return fmt.Errorf("template root: %w", err)
	}
	engine := stencil.NewWithOptions(cfg, stencil.WithLocator(locator))
	log := stencil.GetLogger().WithField("root", locator.Root())

	if !renderWatch {
		return renderAll(ctx, engine, args, data, cmd.OutOrStdout())
	}

	changes := make(chan string, 16)
	if err := locator.Watch(ctx, func(path string) {
		select {
		case changes <- path:
		default:
		}
	}); err != nil {
		return fmt.Errorf("watch %s: %w", renderRoot, err)
	}

	for {
		if err := renderAll(ctx, engine, args, data, cmd.OutOrStdout()); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case path := <-changes:
			log.Info("%s changed, rendering again", path)
			engine.ClearCache()
		}
	}
}

func loadData(path string) (stencil.TemplateData, error) {
	if path == "" {
		return stencil.TemplateData{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open data: %w", err)
	}
	defer f.Close()
	return stencil.LoadData(f, stencil.FormatForPath(path))
}

// renderAll renders every template and then writes the results in argument
// order. It fails when any template recorded a fatal error.
func renderAll(ctx context.Context, engine *stencil.Engine, templates []string, data stencil.TemplateData, stdout io.Writer) error {
	results := make([]*stencil.RenderResult, len(templates))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(renderWorkers, 1))
	for k, name := range templates {
		g.Go(func() error {
			results[k] = engine.RenderPath(gCtx, name, data)
			return gCtx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	for k, name := range templates {
		res := results[k]
		for _, item := range res.Errors {
			fmt.Fprintf(os.Stderr, "%s: %s\n", name, item.Error())
		}
		if res.Err() != nil {
			failed++
		}
		if err := writeResult(name, res.Output, len(templates), stdout); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d templates failed", failed, len(templates))
	}
	return nil
}

func writeResult(name, output string, count int, stdout io.Writer) error {
	if renderOutDir == "" {
		if count > 1 {
			fmt.Fprintf(stdout, "==> %s <==\n", name)
		}
		_, err := io.WriteString(stdout, output)
		return err
	}
	target := filepath.Join(renderOutDir, filepath.FromSlash(filepath.Clean("/"+name)))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.WriteFile(target, []byte(output), 0o644)
}
