package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Elegant996/bitsyd/metainfo"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List torrents previously added under the base directory",
	Run: func(c *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		matches, err := filepath.Glob(filepath.Join(cfg.BaseDir, "torrents", "*.torrent"))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		for _, m := range matches {
			t, err := metainfo.Load(m)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %s\n", m, err)
				continue
			}
			fmt.Println(t.HexHash(), t.Name())
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
