package policy

import (
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

func TestParseMethods(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"post", []string{"POST"}},
		{"post, put,delete", []string{"POST", "PUT", "DELETE"}},
		{" , patch ,, ", []string{"PATCH"}},
	} {
		if got := ParseMethods(tc.raw); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("ParseMethods(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestPolicy_Flags(t *testing.T) {
	p := New(Document{
		DryRunDeletes: true,
		Approvals: map[string][]string{
			"jira":  {"post", "PUT", "GET"},
			"slack": {"POST"},
		},
	})
	for _, tc := range []struct {
		service, method string
		want            Flags
	}{
		{"jira", "POST", Flags{RequiresApproval: true}},
		{"jira", "put", Flags{RequiresApproval: true}},
		{"jira", "GET", Flags{}},
		{"jira", "DELETE", Flags{DryRunDelete: true}},
		{"slack", "POST", Flags{RequiresApproval: true}},
		{"slack", "PUT", Flags{}},
		{"unknown", "DELETE", Flags{DryRunDelete: true}},
		{"unknown", "POST", Flags{}},
	} {
		if got := p.Flags(tc.service, tc.method); got != tc.want {
			t.Errorf("Flags(%q, %q) = %+v, want %+v", tc.service, tc.method, got, tc.want)
		}
	}
}

func TestPolicy_GETNeverGated(t *testing.T) {
	p := New(Document{Approvals: map[string][]string{"gdrive": {"GET"}}})
	if p.RequiresApproval("gdrive", "GET") {
		t.Error("GET must never require approval")
	}
}

func TestPolicy_DocumentRoundTrip(t *testing.T) {
	doc := Document{
		DryRunDeletes: true,
		Approvals:     map[string][]string{"jira": {"put", "POST"}, "gmail": {""}},
	}
	got := New(doc).Document()
	want := Document{
		DryRunDeletes: true,
		Approvals:     map[string][]string{"jira": {"POST", "PUT"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Document() = %+v, want %+v", got, want)
	}
}

func TestDocument_Validate(t *testing.T) {
	if err := (Document{Approvals: map[string][]string{"jira": {"post"}}}).Validate(); err != nil {
		t.Errorf("valid document: %v", err)
	}
	if err := (Document{Approvals: map[string][]string{"trello": {"POST"}}}).Validate(); err == nil {
		t.Error("expected error for unknown service")
	}
	if err := (Document{Approvals: map[string][]string{"jira": {"FETCH"}}}).Validate(); err == nil {
		t.Error("expected error for unknown method")
	}
}

func TestStore_SetAndCurrent(t *testing.T) {
	s := NewStore(New(Document{}))
	if s.Flags("jira", "POST").RequiresApproval {
		t.Fatal("empty policy should not gate")
	}
	old := s.Current()

	s.Set(New(Document{Approvals: map[string][]string{"jira": {"POST"}}}))
	if !s.Flags("jira", "POST").RequiresApproval {
		t.Error("Set did not take effect")
	}
	if old.RequiresApproval("jira", "POST") {
		t.Error("previous snapshot was mutated")
	}
}

func TestStore_ConcurrentUpdate(t *testing.T) {
	s := NewStore(New(Document{}))
	services := []string{"jira", "bitbucket", "slack", "gmail", "gdrive", "gcalendar"}

	var wg sync.WaitGroup
	for _, svc := range services {
		wg.Add(1)
		go func(svc string) {
			defer wg.Done()
			s.Update(func(d Document) Document {
				d.Approvals[svc] = []string{"POST"}
				return d
			})
		}(svc)
	}
	wg.Wait()

	for _, svc := range services {
		if !s.Flags(svc, "POST").RequiresApproval {
			t.Errorf("update for %s lost", svc)
		}
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.toml")
	content := "dry_run_deletes = true\n\n[approvals]\njira = [\"post\", \"delete\"]\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	base := Document{Approvals: map[string][]string{"jira": {"PUT"}, "slack": {"POST"}}}
	got, err := LoadFile(path, base)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !got.DryRunDeletes {
		t.Error("dry_run_deletes not applied")
	}
	if !reflect.DeepEqual(got.Approvals["jira"], []string{"post", "delete"}) {
		t.Errorf("jira approvals = %v", got.Approvals["jira"])
	}
	if !reflect.DeepEqual(got.Approvals["slack"], []string{"POST"}) {
		t.Errorf("slack approvals = %v, want base value kept", got.Approvals["slack"])
	}
	if !reflect.DeepEqual(base.Approvals["jira"], []string{"PUT"}) {
		t.Error("base document was mutated")
	}
}

func TestLoadFile_KeepsBaseDryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.toml")
	if err := os.WriteFile(path, []byte("[approvals]\nslack = [\"POST\"]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadFile(path, Document{DryRunDeletes: true})
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !got.DryRunDeletes {
		t.Error("base dry_run_deletes overwritten by absent key")
	}
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()
	for _, tc := range []struct {
		name    string
		content string
	}{
		{"syntax", "dry_run_deletes = \n"},
		{"unknown key", "dry_run = true\n"},
		{"unknown service", "[approvals]\ntrello = [\"POST\"]\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".toml")
			if err := os.WriteFile(path, []byte(tc.content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadFile(path, Document{}); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := LoadFile(filepath.Join(dir, "missing.toml"), Document{}); err == nil {
		t.Error("expected error for missing file")
	}
}
