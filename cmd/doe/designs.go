package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/mayflydoe/internal/store"
)

var (
	keepLast      int
	olderThanDays int
	forceClean    bool
)

var designsCmd = &cobra.Command{
	Use:   "designs",
	Short: "Manage saved design records",
	Long:  `List, show and clean design records saved by "doe run --save" and the job server.`,
}

var listDesignsCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved designs",
	RunE:  runListDesigns,
}

var showDesignCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the experiments of a saved design as CSV",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowDesign,
}

var cleanDesignsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete old design records",
	Long: `Delete design records based on a retention policy: keep the newest N
and/or delete records older than N days.`,
	RunE: runCleanDesigns,
}

func init() {
	rootCmd.AddCommand(designsCmd)
	designsCmd.AddCommand(listDesignsCmd, showDesignCmd, cleanDesignsCmd)

	cleanDesignsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N records (0 = keep all)")
	cleanDesignsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete records older than N days (0 = no age limit)")
	cleanDesignsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func runListDesigns(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(appConfig.DataDir)
	if err != nil {
		return err
	}
	infos, err := st.ListRecords()
	if err != nil {
		return fmt.Errorf("failed to list designs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No designs found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tN\tCRITERION\tSTRATEGY\tVALUE\tSIZE")
	for _, info := range infos {
		sizeStr := "unknown"
		if size, err := getDirSize(filepath.Join(appConfig.DataDir, "designs", info.ID)); err == nil {
			sizeStr = formatBytes(size)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%.6g\t%s\n",
			shortID(info.ID),
			info.CreatedAt.Format("2006-01-02 15:04:05"),
			info.NExperiments,
			info.Criterion,
			info.Strategy,
			info.Value,
			sizeStr,
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal designs: %d\n", len(infos))
	return nil
}

func runShowDesign(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(appConfig.DataDir)
	if err != nil {
		return err
	}
	record, err := st.LoadRecord(args[0])
	if err != nil {
		return err
	}
	return record.Candidates.WriteCSV(cmd.OutOrStdout())
}

func runCleanDesigns(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	st, err := store.NewFSStore(appConfig.DataDir)
	if err != nil {
		return err
	}
	infos, err := st.ListRecords()
	if err != nil {
		return fmt.Errorf("failed to list designs: %w", err)
	}

	out := cmd.OutOrStdout()
	olderThan := time.Duration(olderThanDays) * 24 * time.Hour
	toDelete := store.SelectForDeletion(infos, keepLast, olderThan, time.Now())
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No designs match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d design(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%s)\n", shortID(info.ID), info.CreatedAt.Format("2006-01-02 15:04:05"))
	}

	if !forceClean {
		fmt.Fprint(out, "\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Fscanln(cmd.InOrStdin(), &response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	deleted, failed := 0, 0
	for _, info := range toDelete {
		if err := st.DeleteRecord(info.ID); err != nil {
			slog.Error("Failed to delete design", "id", info.ID, "error", err)
			failed++
		} else {
			slog.Info("Deleted design", "id", info.ID)
			deleted++
		}
	}

	fmt.Fprintf(out, "\nDeleted %d design(s), %d failed.\n", deleted, failed)
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
