package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/alfredjeanlab/extgate/internal/model"
	"github.com/alfredjeanlab/extgate/internal/ui"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	Short:   "Inspect and decide review queue items",
	GroupID: "review",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review queue items, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		service, _ := cmd.Flags().GetString("service")
		all, _ := cmd.Flags().GetBool("all")
		if all {
			status = ""
		}
		filter := model.QueueFilter{Status: model.Status(status), Service: service}
		if filter.Status != "" && !filter.Status.IsValid() {
			return fmt.Errorf("invalid status %q (want pending, approved or rejected)", status)
		}
		if filter.Service != "" && !model.IsService(filter.Service) {
			return fmt.Errorf("unknown service %q", filter.Service)
		}

		items, err := adminClient.ListQueue(context.Background(), filter)
		if err != nil {
			return fmt.Errorf("listing queue: %w", err)
		}
		if jsonOutput {
			return printJSON(items)
		}
		printItemListTable(os.Stdout, items)
		return nil
	},
}

var queueShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a review queue item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		item, err := adminClient.GetItem(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting %s: %w", args[0], err)
		}
		if jsonOutput {
			return printJSON(item)
		}
		printItemTable(os.Stdout, item)
		return nil
	},
}

var queueApproveCmd = &cobra.Command{
	Use:   "approve <id>...",
	Short: "Approve items and execute their upstream calls",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		ctx := context.Background()
		for _, id := range args {
			if !yes && ui.StdinIsTerminal() {
				item, err := adminClient.GetItem(ctx, id)
				if err != nil {
					return fmt.Errorf("getting %s: %w", id, err)
				}
				printItemTable(os.Stdout, item)
				if !confirm(fmt.Sprintf("Execute %s %s on %s?", item.Method, item.UpstreamPath, item.Service)) {
					fmt.Printf("Skipped %s\n", id)
					continue
				}
			}

			item, err := adminClient.Approve(ctx, id)
			if err != nil {
				return fmt.Errorf("approving %s: %w", id, err)
			}
			if jsonOutput {
				if err := printJSON(item); err != nil {
					return err
				}
				continue
			}
			fmt.Printf("Approved %s (upstream %s)\n", id, ui.RenderHTTPStatus(*item.ResponseStatus))
		}
		return nil
	},
}

var queueRejectCmd = &cobra.Command{
	Use:   "reject <id>...",
	Short: "Reject items without calling upstream",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, id := range args {
			item, err := adminClient.Reject(context.Background(), id)
			if err != nil {
				return fmt.Errorf("rejecting %s: %w", id, err)
			}
			if jsonOutput {
				if err := printJSON(item); err != nil {
					return err
				}
				continue
			}
			fmt.Printf("Rejected %s\n", id)
		}
		return nil
	},
}

var queueDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Remove items from the queue regardless of status",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, id := range args {
			if err := adminClient.DeleteItem(context.Background(), id); err != nil {
				return fmt.Errorf("deleting %s: %w", id, err)
			}
			fmt.Printf("Deleted %s\n", id)
		}
		return nil
	},
}

// confirm asks a yes/no question on stdin; anything but y/yes is no.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func init() {
	queueListCmd.Flags().String("status", "pending", "filter by status (pending, approved, rejected)")
	queueListCmd.Flags().String("service", "", "filter by service")
	queueListCmd.Flags().Bool("all", false, "list items in every status")
	queueApproveCmd.Flags().BoolP("yes", "y", false, "approve without confirmation")

	queueCmd.AddCommand(queueListCmd, queueShowCmd, queueApproveCmd, queueRejectCmd, queueDeleteCmd)
}
