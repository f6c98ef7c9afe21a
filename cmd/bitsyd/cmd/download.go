package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path"
	"time"

	"github.com/spf13/cobra"

	"github.com/Elegant996/bitsyd/engine"
	"github.com/Elegant996/bitsyd/internal/resumestore"
)

var downloadCmd = &cobra.Command{
	Use:   "download <torrent> [downloadDir]",
	Short: "Start/resume a torrent download",
	Long: `This command starts downloading every file described by a .torrent
file. If a download has previously been initiated for a torrent with
an identical info hash, the download resumes from its saved
have-bitfield rather than re-verifying every piece.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(c *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if len(args) > 1 {
			cfg.DownloadDir = args[1]
		}

		eng, err := engine.New(cfg.ToEngineConfig())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		if err := eng.Initialize(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer eng.Cleanup()

		store, err := resumestore.Open(path.Join(cfg.BaseDir, "resume.db"))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer store.Close()

		fmt.Printf("Loading torrent... ")
		d, err := eng.AddTorrent(args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("done\n")

		resumestore.Restore(store, d)

		done := make(chan struct{})
		go store.RunSync(eng, done)
		defer close(done)

		for !d.IsComplete() {
			clear()
			fmt.Println(printStat(eng))
			time.Sleep(time.Second)
		}

		store.SyncAll(eng)
		fmt.Printf("Download complete: %s\n", d.Torrent.Name())
	},
}

func clear() {
	c := exec.Command("clear")
	c.Stdout = os.Stdout
	c.Run()
}

func printStat(eng *engine.Engine) string {
	stats := eng.Stat()
	return fmt.Sprintf("-----\nbitsyd\n-----\nPort: %v\nTorrents:\n%v\n", stats["port"], stats["torrents"])
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}
