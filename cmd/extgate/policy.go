package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/alfredjeanlab/extgate/internal/policy"
	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:     "policy",
	Short:   "Show or change the gate policy",
	GroupID: "gateway",
}

var policyGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the active policy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := adminClient.GetPolicy(context.Background())
		if err != nil {
			return fmt.Errorf("getting policy: %w", err)
		}
		if jsonOutput {
			return printJSON(doc)
		}
		printPolicy(*doc)
		return nil
	},
}

var policySetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change the active policy",
	Long: `Change the active policy. Flags modify the current policy; --file
replaces it with the contents of a TOML policy file first.

  extgate policy set --dry-run-deletes=true
  extgate policy set --require jira=POST,PUT --require slack=
  extgate policy set --file policy.toml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		file, _ := cmd.Flags().GetString("file")
		requires, _ := cmd.Flags().GetStringArray("require")

		var doc policy.Document
		if file != "" {
			loaded, err := policy.LoadFile(file, policy.Document{})
			if err != nil {
				return err
			}
			doc = loaded
		} else {
			current, err := adminClient.GetPolicy(ctx)
			if err != nil {
				return fmt.Errorf("getting policy: %w", err)
			}
			doc = *current
		}

		if cmd.Flags().Changed("dry-run-deletes") {
			doc.DryRunDeletes, _ = cmd.Flags().GetBool("dry-run-deletes")
		}
		if err := applyRequires(&doc, requires); err != nil {
			return err
		}

		updated, err := adminClient.SetPolicy(ctx, doc)
		if err != nil {
			return fmt.Errorf("setting policy: %w", err)
		}
		if jsonOutput {
			return printJSON(updated)
		}
		printPolicy(*updated)
		return nil
	},
}

// applyRequires applies "service=METHOD,METHOD" assignments. An empty method
// list removes the service's approval requirement.
func applyRequires(doc *policy.Document, requires []string) error {
	if len(requires) == 0 {
		return nil
	}
	if doc.Approvals == nil {
		doc.Approvals = make(map[string][]string)
	}
	for _, r := range requires {
		svc, methods, ok := strings.Cut(r, "=")
		if !ok || strings.TrimSpace(svc) == "" {
			return fmt.Errorf("invalid --require %q (want service=METHOD,...)", r)
		}
		svc = strings.ToLower(strings.TrimSpace(svc))
		if parsed := policy.ParseMethods(methods); len(parsed) > 0 {
			doc.Approvals[svc] = parsed
		} else {
			delete(doc.Approvals, svc)
		}
	}
	return doc.Validate()
}

func printPolicy(doc policy.Document) {
	fmt.Fprintf(os.Stdout, "Dry-run deletes:  %v\n", doc.DryRunDeletes)
	if len(doc.Approvals) == 0 {
		fmt.Fprintln(os.Stdout, "Approvals:        none")
		return
	}
	services := make([]string, 0, len(doc.Approvals))
	for svc := range doc.Approvals {
		services = append(services, svc)
	}
	sort.Strings(services)
	fmt.Fprintln(os.Stdout, "Approvals:")
	for _, svc := range services {
		fmt.Fprintf(os.Stdout, "  %-10s %s\n", svc, strings.Join(doc.Approvals[svc], ", "))
	}
}

func init() {
	policySetCmd.Flags().String("file", "", "replace the policy with a TOML policy file")
	policySetCmd.Flags().Bool("dry-run-deletes", false, "block every DELETE with a synthetic response")
	policySetCmd.Flags().StringArray("require", nil, "service=METHODS requiring approval (repeatable, empty clears)")

	policyCmd.AddCommand(policyGetCmd, policySetCmd)
}
