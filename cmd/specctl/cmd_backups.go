package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/olgasafonova/confluence-spec-mcp-server/internal/sanitize"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/storage"
)

// --------------------------------------------------------------------------
// backups
// --------------------------------------------------------------------------

func backupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups <page-id>",
		Short: "List the snapshots taken before a page was updated",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackups,
	}
	cmd.Flags().Bool("content", false, "Print the body of the newest backup")
	return cmd
}

func runBackups(cmd *cobra.Command, args []string) error {
	pageID := args[0]
	if err := sanitize.ValidatePageID(pageID); err != nil {
		return err
	}

	db, err := openDatabase(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	backups, err := db.ListBackups(cmd.Context(), pageID)
	if err != nil {
		return err
	}
	if backups == nil {
		backups = []storage.PageBackup{}
	}

	if showContent, _ := cmd.Flags().GetBool("content"); showContent {
		if len(backups) == 0 {
			return fmt.Errorf("no backups of page %s", pageID)
		}
		newest := backups[0]
		return writeOutput(cmd, newest, func(w io.Writer) { fmt.Fprintln(w, newest.Content) })
	}

	return writeOutput(cmd, backups, func(w io.Writer) {
		if len(backups) == 0 {
			fmt.Fprintf(w, "No backups of page %s\n", pageID)
			return
		}
		fmt.Fprintf(w, "%sBackups of page %s%s\n", bold, pageID, reset)
		for _, b := range backups {
			fmt.Fprintf(w, "  v%-4d %s  %s  (%d bytes)\n",
				b.Version, b.CreatedAt.Local().Format(time.DateTime), b.Title, len(b.Content))
		}
	})
}
