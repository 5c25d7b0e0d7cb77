package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/benjaminschreck/textstencil/pkg/stencil"
	"github.com/benjaminschreck/textstencil/pkg/stencil/tokenizer"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens FILE",
	Short: "Print the tokens a template is split into",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		sym := stencil.GetGlobalConfig().Symbols

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "LINE\tPOS\tKIND\tTAG\tIMAGE")
		for tok := range tokenizer.Scan(string(src), sym) {
			image := fmt.Sprintf("%q", tok.Image)
			if tok.Unclosed {
				image += " (unclosed)"
			}
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", tok.Line, tok.StartPos, tok.Kind, tok.TagName, image)
		}
		return w.Flush()
	},
}
