package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-yaml"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const sixPoints = "0,0\n1,0\n0,1\n10,10\n11,10\n10,11\n"

func TestBuildAndQuery(t *testing.T) {
	dir := t.TempDir()
	train := writeCSV(t, dir, "train.csv", sixPoints)
	queries := writeCSV(t, dir, "queries.csv", "0,0\n10,10\n")

	for _, backend := range []string{"flat", "kdtree", "pqivf"} {
		snapshot := filepath.Join(dir, backend+".sidx")
		out, err := run(t, "build", "--backend", backend, "--input", train, "--output", snapshot, "--seed", "7")
		if err != nil {
			t.Fatalf("%s build failed: %v\n%s", backend, err, out)
		}
		if !strings.Contains(out, "Indexed 6 vectors") {
			t.Errorf("%s: unexpected build output %q", backend, out)
		}

		out, err = run(t, "query", "--index", snapshot, "--input", queries, "--k", "3")
		if err != nil {
			t.Fatalf("%s query failed: %v\n%s", backend, err, out)
		}
		if !strings.Contains(out, "Query #1: id=0 (dist=0.000) id=1 (dist=1.000) id=2 (dist=1.000)") {
			t.Errorf("%s: unexpected query output:\n%s", backend, out)
		}
		if !strings.Contains(out, "Query #2: id=3 (dist=0.000)") {
			t.Errorf("%s: unexpected query output:\n%s", backend, out)
		}
	}
}

func TestBuildReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	train := writeCSV(t, dir, "train.csv", sixPoints)
	config := writeCSV(t, dir, "simindex.yaml", "backend: kdtree\nleaf_capacity: 2\ncodec: lz4\n")
	snapshot := filepath.Join(dir, "idx.sidx")

	out, err := run(t, "build", "--config", config, "-i", train, "-o", snapshot)
	if err != nil {
		t.Fatalf("build failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "with kdtree") {
		t.Errorf("config file backend not applied: %q", out)
	}

	out, err = run(t, "info", "--index", snapshot)
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	if !strings.Contains(out, "Backend:    kdtree") || !strings.Contains(out, "Vectors:    6") {
		t.Errorf("unexpected info output:\n%s", out)
	}
}

func TestBuildErrors(t *testing.T) {
	dir := t.TempDir()
	train := writeCSV(t, dir, "seven.csv", "1,2,3,4,5,6,7\n7,6,5,4,3,2,1\n")
	snapshot := filepath.Join(dir, "idx.sidx")

	if _, err := run(t, "build", "-o", snapshot); err == nil {
		t.Error("expected an error without --input")
	}
	if _, err := run(t, "build", "-i", train); err == nil {
		t.Error("expected an error without --output")
	}
	if _, err := run(t, "build", "-b", "pqivf", "-i", train, "-o", snapshot); err == nil {
		t.Error("expected pqivf to reject a dimension of 7")
	}
	if _, err := os.Stat(snapshot); !os.IsNotExist(err) {
		t.Errorf("failed build left a snapshot behind: %v", err)
	}
	if _, err := run(t, "build", "-b", "annoy", "-i", train, "-o", snapshot); err == nil {
		t.Error("expected an error for an unknown backend")
	}
}

func TestEval(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "train.csv", sixPoints)
	writeCSV(t, dir, "test.csv", "0,0\n10,10\n")

	out, err := run(t, "eval", "--dir", dir, "--k", "3", "--backend", "kdtree")
	if err != nil {
		t.Fatalf("eval failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Average Recall@3 over 2 queries: 1.00") {
		t.Errorf("unexpected eval output:\n%s", out)
	}
}

func TestEvalWritesReport(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "train.csv", sixPoints)
	writeCSV(t, dir, "test.csv", "0,0\n10,10\n")
	reportPath := filepath.Join(t.TempDir(), "report.yaml")

	if out, err := run(t, "eval", "--dir", dir, "--k", "2", "--report", reportPath); err != nil {
		t.Fatalf("eval failed: %v\n%s", err, out)
	}
	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	var summary evalSummary
	if err := yaml.Unmarshal(data, &summary); err != nil {
		t.Fatalf("report is not valid YAML: %v", err)
	}
	if summary.Backend != "flat" || summary.Vectors != 6 || summary.Queries != 2 || summary.Recall != 1 {
		t.Errorf("unexpected report %+v", summary)
	}
}

func TestInfo(t *testing.T) {
	out, err := run(t, "info")
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	for _, want := range []string{"Platform:", "CPU:", "Backends:   flat kdtree pqivf", "pqivf:      coarse_k=100"} {
		if !strings.Contains(out, want) {
			t.Errorf("info output missing %q:\n%s", want, out)
		}
	}
}
