package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/benjaminschreck/textstencil/pkg/stencil"
)

var checkRoot string

var checkCmd = &cobra.Command{
	Use:   "check TEMPLATE...",
	Short: "Parse templates and report syntax problems",
	Long: `Parse templates without rendering them and print every problem found.
The command fails when any template has a fatal error.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		locator, err := stencil.NewFileLocator(checkRoot)
		if err != nil {
			return fmt.Errorf("template root: %w", err)
		}
		engine := stencil.NewWithOptions(stencil.GetGlobalConfig(), stencil.WithLocator(locator))

		out := cmd.OutOrStdout()
		failed := 0
		for _, name := range args {
			pt, err := engine.PrepareFile(cmd.Context(), name)
			if err != nil {
				fmt.Fprintf(out, "%s: %v\n", name, err)
				failed++
				continue
			}
			errs := pt.Errors()
			for _, item := range errs {
				fmt.Fprintf(out, "%s: %s\n", name, item.Error())
			}
			if errs.HasFatal() {
				failed++
			} else if len(errs) == 0 {
				fmt.Fprintf(out, "%s: ok\n", name)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d templates have errors", failed, len(args))
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVarP(&checkRoot, "root", "r", ".", "directory templates are loaded from")
}
