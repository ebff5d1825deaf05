package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/extgate/internal/model"
	"github.com/alfredjeanlab/extgate/internal/ui"
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printItemTable(w io.Writer, it *model.QueueItem) {
	fmt.Fprintf(w, "ID:          %s\n", it.ID)
	fmt.Fprintf(w, "Status:      %s\n", ui.RenderStatus(it.Status))
	fmt.Fprintf(w, "Service:     %s\n", it.Service)
	fmt.Fprintf(w, "Request:     %s %s\n", it.Method, it.UpstreamPath)
	if it.Endpoint != "" {
		fmt.Fprintf(w, "Endpoint:    %s\n", it.Endpoint)
	}
	if len(it.Params) > 0 {
		fmt.Fprintf(w, "Params:      %s\n", mustCompactJSON(it.Params))
	}
	if len(it.Body) > 0 {
		fmt.Fprintf(w, "Body:        %s\n", it.Body)
	}
	if it.CallerIP != nil {
		fmt.Fprintf(w, "Caller IP:   %s\n", *it.CallerIP)
	}
	fmt.Fprintf(w, "Created At:  %s\n", formatTime(it.CreatedAt))
	if it.DecidedAt != nil {
		fmt.Fprintf(w, "Decided At:  %s\n", formatTime(*it.DecidedAt))
	}
	if it.ResponseStatus != nil {
		fmt.Fprintf(w, "Response:    %s\n", ui.RenderHTTPStatus(*it.ResponseStatus))
	}
	if it.ResponseBody != nil && *it.ResponseBody != "" {
		fmt.Fprintf(w, "Resp. Body:  %s\n", truncate(*it.ResponseBody, 500))
	}
	if it.Attempts > 0 {
		fmt.Fprintf(w, "Attempts:    %d\n", it.Attempts)
	}
	if it.LastError != nil {
		fmt.Fprintf(w, "Last Error:  %s\n", *it.LastError)
	}
}

func printItemListTable(w io.Writer, items []*model.QueueItem) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSERVICE\tMETHOD\tPATH\tCREATED")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			it.ID,
			it.Status,
			it.Service,
			it.Method,
			truncate(it.UpstreamPath, 60),
			formatTime(it.CreatedAt),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d items\n", len(items))
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func mustCompactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func stderrf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}
