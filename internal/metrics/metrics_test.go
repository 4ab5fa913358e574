package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteTextfile(t *testing.T) {
	MergesTotal.WithLabelValues("forward").Inc()
	p := filepath.Join(t.TempDir(), "sub", "run.prom")
	if err := WriteTextfile(p); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `sitechain_merges_total{direction="forward"}`) {
		t.Fatalf("merges counter missing from textfile:\n%s", b)
	}
	if err := WriteTextfile(""); err != nil {
		t.Fatalf("empty path should be a no-op: %v", err)
	}
}
