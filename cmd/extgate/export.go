package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alfredjeanlab/extgate/internal/archive"
	"github.com/alfredjeanlab/extgate/internal/model"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	Short:   "Write the review queue as JSONL",
	Long:    `Write every review queue item as JSONL, in the same format as the periodic S3 archive.`,
	GroupID: "review",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")

		items, err := adminClient.ListQueue(context.Background(), model.QueueFilter{})
		if err != nil {
			return fmt.Errorf("listing queue: %w", err)
		}

		var w io.Writer = os.Stdout
		if out != "" && out != "-" {
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		if err := archive.WriteJSONL(w, items, time.Now().UTC()); err != nil {
			return err
		}
		if out != "" && out != "-" {
			stderrf("Exported %d items to %s\n", len(items), out)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "output file (default stdout)")
}
