package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/maneesh/blogmedia/internal/config"
	"github.com/spf13/cobra"
)

var scenesCmd = &cobra.Command{
	Use:   "scenes",
	Short: "Print the effective scene table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		reg, err := cfg.Registry()
		if err != nil {
			return fmt.Errorf("invalid scene configuration: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCENE\tDIR\tDATED\tMAX SIZE\tMAX COUNT\tCOMPRESS\tTHUMBNAIL\tEXTENSIONS")
		for _, s := range reg.Scenes() {
			tpl, _ := reg.Template(s)
			compress := "-"
			if tpl.Policy.Compress {
				compress = fmt.Sprintf("%s q%d", tpl.Policy.Format, tpl.Policy.Quality)
			}
			thumb := "-"
			if t := tpl.Thumbnail; t != nil {
				thumb = fmt.Sprintf("%dx%d", t.Spec.Width, t.Spec.Height)
				if t.Scene != "" {
					thumb += " -> " + string(t.Scene)
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%d\t%s\t%s\t%s\n",
				s, tpl.BaseDir, tpl.DatePartitioned, tpl.Policy.MaxSize, tpl.Policy.MaxCount,
				compress, thumb, strings.Join(tpl.Policy.AllowedExt, ","))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(scenesCmd)
}
