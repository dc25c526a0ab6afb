// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/kge-archive/internal/objstore"
)

func seedStore(t *testing.T, objects map[string]string) *objstore.Mem {
	t.Helper()
	ctx := context.Background()
	s := objstore.NewMem()
	for key, content := range objects {
		if _, err := s.Put(ctx, key, strings.NewReader(content), nil); err != nil {
			t.Fatalf("Put(%q) = %v", key, err)
		}
	}
	return s
}

func TestLoadDerivesIndex(t *testing.T) {
	fileSetYAML := "kg_id: sri-semmeddb\nfileset_version: \"4.3\"\nsubmitter_name: Jo Submitter\nstatus: Validated\nsize: 99\n"
	s := seedStore(t, map[string]string{
		"kge-data/sri-semmeddb/provider.yaml":          "name: SemMedDB\n",
		"kge-data/sri-semmeddb/4.3/file_set.yaml":      fileSetYAML,
		"kge-data/sri-semmeddb/4.3/nodes/nodes.tsv":    "n1\tn2\n",
		"kge-data/sri-semmeddb/4.3/edges/edges.tsv":    "e1\te2\n",
		"kge-data/sri-semmeddb/4.3/archive/kg.tar.gz":  "binary",
		"kge-data/monarch/1.0/data.tsv":                "d\n",
		"unrelated-prefix/ignored.txt":                 "x",
		"kge-data/sri-semmeddb/4.3/metadata/content_metadata.json": "{}",
	})
	c, err := Load(context.Background(), s, "kge-data")
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if got := c.KnowledgeGraphs(); !cmp.Equal(got, []string{"monarch", "sri-semmeddb"}) {
		t.Errorf("KnowledgeGraphs() = %v", got)
	}
	kg, ok := c.Graph("sri-semmeddb")
	if !ok {
		t.Fatal("Graph(sri-semmeddb) not found")
	}
	if !strings.Contains(kg.Provider, "SemMedDB") {
		t.Errorf("Provider blob = %q, want provider.yaml contents", kg.Provider)
	}
	fs, ok := c.FileSet("sri-semmeddb", "4.3")
	if !ok {
		t.Fatal("FileSet(sri-semmeddb, 4.3) not found")
	}
	if fs.Status != Validated || fs.SubmitterName != "Jo Submitter" {
		t.Errorf("metadata overlay not applied: %+v", fs)
	}
	types := map[string]FileType{}
	for _, f := range fs.Files() {
		types[f.Name] = f.Type
	}
	want := map[string]FileType{
		"nodes.tsv":             Nodes,
		"edges.tsv":             Edges,
		"kg.tar.gz":             Archive,
		"content_metadata.json": ContentMetadataFile,
	}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("member types diff (-want +got):\n%s", diff)
	}
}

func TestVersionsByGraph(t *testing.T) {
	s := seedStore(t, map[string]string{
		"kge-data/kg-a/1.0/data.tsv":      "x",
		"kge-data/kg-a/1.1/data.tsv":      "x",
		"kge-data/kg-b/provider.yaml":     "name: b\n",
		"kge-data/kg-c/2.0/nodes/n.tsv":   "x",
	})
	c, err := Load(context.Background(), s, "kge-data")
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	want := map[string][]string{
		"kg-a": {"1.0", "1.1"},
		"kg-b": {},
		"kg-c": {"2.0"},
	}
	if diff := cmp.Diff(want, c.VersionsByGraph(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("VersionsByGraph() diff (-want +got):\n%s", diff)
	}
}

func TestRegisterImplicitGraph(t *testing.T) {
	c := New("kge-data")
	fs := &FileSet{KgID: "fresh-kg", Version: "1.0", Status: Loaded}
	c.Register(fs)
	kg, ok := c.Graph("fresh-kg")
	if !ok {
		t.Fatal("Graph(fresh-kg) not created by Register")
	}
	if got, ok := kg.FileSet("1.0"); !ok || got != fs {
		t.Errorf("FileSet(1.0) = (%v, %t), want registered file set", got, ok)
	}
}
