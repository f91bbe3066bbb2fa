package matio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openfluke/tilegemm/plan"
)

// TestRoundTrip saves and reloads a matrix and compares every element.
func TestRoundTrip(t *testing.T) {
	m := plan.NewMatrix(3, 5)
	for i := range m.Data {
		m.Data[i] = float32(i) * 0.25
	}

	path := filepath.Join(t.TempDir(), "a.tmf")
	if err := Save(path, m); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if got.Rows != 3 || got.Cols != 5 {
		t.Fatalf("expected 3x5, got %dx%d", got.Rows, got.Cols)
	}
	for i := range m.Data {
		if got.Data[i] != m.Data[i] {
			t.Errorf("element %d: expected %g, got %g", i, m.Data[i], got.Data[i])
		}
	}
}

// TestLoadRejectsCorrupt checks truncated and mis-tagged files fail cleanly.
func TestLoadRejectsCorrupt(t *testing.T) {
	dir := t.TempDir()

	short := filepath.Join(dir, "short.tmf")
	if err := os.WriteFile(short, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(short); err == nil {
		t.Error("truncated file accepted")
	}

	m := plan.NewMatrix(2, 2)
	good := filepath.Join(dir, "good.tmf")
	if err := Save(good, m); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(good)
	if err != nil {
		t.Fatal(err)
	}
	raw[0] ^= 0xff
	bad := filepath.Join(dir, "badmagic.tmf")
	if err := os.WriteFile(bad, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("bad magic accepted")
	}

	trunc := filepath.Join(dir, "truncpayload.tmf")
	if err := os.WriteFile(trunc, append([]byte{}, raw[:len(raw)-4]...), 0o644); err != nil {
		t.Fatal(err)
	}
	// restore the magic byte for the payload-size case
	restored, _ := os.ReadFile(trunc)
	restored[0] ^= 0xff
	if err := os.WriteFile(trunc, restored, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(trunc); err == nil {
		t.Error("truncated payload accepted")
	}
}
