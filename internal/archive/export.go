package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/extgate/internal/model"
)

// FormatVersion is written in every archive header.
const FormatVersion = "1"

// Lister is the read side of the queue store used for export.
type Lister interface {
	ListItems(ctx context.Context, filter model.QueueFilter) ([]*model.QueueItem, error)
}

// Header is the first JSONL record of an archive.
type Header struct {
	Version   string         `json:"version"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	ItemCount int            `json:"item_count"`
	ByStatus  map[string]int `json:"by_status"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes every queue item in source as JSONL to w and returns
// the number of items written.
func ExportJSONL(ctx context.Context, source Lister, w io.Writer) (int, error) {
	items, err := source.ListItems(ctx, model.QueueFilter{})
	if err != nil {
		return 0, fmt.Errorf("list queue items: %w", err)
	}
	if err := WriteJSONL(w, items, time.Now().UTC()); err != nil {
		return 0, err
	}
	return len(items), nil
}

// WriteJSONL writes a header followed by one record per item, sorted by id.
// items is sorted in place.
func WriteJSONL(w io.Writer, items []*model.QueueItem, now time.Time) error {
	sort.Slice(items, func(i, j int) bool {
		return items[i].ID < items[j].ID
	})

	byStatus := make(map[string]int)
	for _, it := range items {
		byStatus[it.Status.String()]++
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(Header{
		Version:   FormatVersion,
		Type:      "header",
		Timestamp: now,
		ItemCount: len(items),
		ByStatus:  byStatus,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, it := range items {
		if err := enc.Encode(record{Type: "item", Data: it}); err != nil {
			return fmt.Errorf("encode item %s: %w", it.ID, err)
		}
	}
	return nil
}
