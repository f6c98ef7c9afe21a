package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Elegant996/bitsyd/metainfo"
)

var statCmd = &cobra.Command{
	Use:   "stat <torrent>",
	Short: "Print a summary of a .torrent file",
	Long: `This command prints a summary of the torrent including its info
hash, piece layout, file list, and announce tiers. It does not open
any network connections.`,
	Args: cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		t, err := metainfo.Load(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not load torrent: %s\n", err)
			os.Exit(1)
		}

		fmt.Printf("-------\n%s\n-------\n", t.Name())
		fmt.Printf("Info hash: %s\n", t.HexHash())
		fmt.Printf("Piece length: %s\n", t.PieceLength())
		fmt.Printf("Pieces: %d\n", t.NumPieces())
		fmt.Printf("Total size: %s\n", t.Length())

		fmt.Println("Files:")
		for i, f := range t.Files() {
			fmt.Printf("  %d: %s %s\n", i, f.FullPath, f.Length)
		}

		fmt.Println("Trackers:")
		for tier, urls := range t.AnnounceList() {
			for _, u := range urls {
				fmt.Printf("  [%d] %s\n", tier, u)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(statCmd)
}
