package policy

import (
	"fmt"
	"maps"

	"github.com/BurntSushi/toml"
)

// LoadFile decodes a TOML policy file and overlays it on base. Keys absent
// from the file keep their base values; a service listed under [approvals]
// replaces the base method list for that service.
//
//	dry_run_deletes = true
//
//	[approvals]
//	jira = ["POST", "PUT", "DELETE"]
//	slack = ["POST"]
func LoadFile(path string, base Document) (Document, error) {
	var file Document
	md, err := toml.DecodeFile(path, &file)
	if err != nil {
		return Document{}, fmt.Errorf("decode policy file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Document{}, fmt.Errorf("policy file %s: unknown key %q", path, undecoded[0].String())
	}
	if err := file.Validate(); err != nil {
		return Document{}, fmt.Errorf("policy file %s: %w", path, err)
	}

	out := Document{
		DryRunDeletes: base.DryRunDeletes,
		Approvals:     maps.Clone(base.Approvals),
	}
	if out.Approvals == nil {
		out.Approvals = make(map[string][]string)
	}
	if md.IsDefined("dry_run_deletes") {
		out.DryRunDeletes = file.DryRunDeletes
	}
	for svc, methods := range file.Approvals {
		out.Approvals[svc] = methods
	}
	return out, nil
}
