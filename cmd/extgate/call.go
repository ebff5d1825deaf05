package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/alfredjeanlab/extgate/internal/client"
	"github.com/alfredjeanlab/extgate/internal/model"
	"github.com/alfredjeanlab/extgate/internal/ui"
	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call <service> <method> <path>",
	Short: "Send a call through the gateway's passthrough endpoint",
	Long: `Send a call through the gateway's passthrough endpoint. The call is
gated like any other: it may be forwarded, blocked or queued for review.

  extgate call jira GET /rest/api/3/myself
  extgate call slack POST /chat.postMessage --body '{"channel":"C1","text":"hi"}'
  extgate call gdrive GET /drive/v3/files --param q="name contains 'plan'"`,
	GroupID: "gateway",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, _ := cmd.Flags().GetString("body")
		params, _ := cmd.Flags().GetStringToString("param")

		req, err := buildCallRequest(args[0], args[1], args[2], body, params)
		if err != nil {
			return err
		}
		resp, err := adminClient.Call(context.Background(), args[0], req)
		if err != nil {
			return fmt.Errorf("calling %s: %w", args[0], err)
		}

		if !jsonOutput {
			stderrf("%s %s\n", ui.RenderHTTPStatus(resp.StatusCode), ui.RenderMuted(resp.ContentType))
		}
		os.Stdout.Write(resp.Body)
		if len(resp.Body) > 0 && resp.Body[len(resp.Body)-1] != '\n' {
			fmt.Println()
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("gateway answered %d", resp.StatusCode)
		}
		return nil
	},
}

func buildCallRequest(service, method, path, body string, params map[string]string) (*client.CallRequest, error) {
	if !model.IsService(service) {
		return nil, fmt.Errorf("unknown service %q", service)
	}
	method = strings.ToUpper(method)
	if !model.IsMethod(method) {
		return nil, fmt.Errorf("unsupported method %q", method)
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("path %q must start with /", path)
	}
	req := &client.CallRequest{Method: method, Path: path}
	if body != "" {
		if !json.Valid([]byte(body)) {
			return nil, fmt.Errorf("--body is not valid JSON")
		}
		req.Body = json.RawMessage(body)
	}
	if len(params) > 0 {
		req.Params = params
	}
	return req, nil
}

func init() {
	callCmd.Flags().String("body", "", "JSON request body")
	callCmd.Flags().StringToString("param", nil, "query parameter key=value (repeatable)")
}
