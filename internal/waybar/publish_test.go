package waybar

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPublishAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "waybar-output.json")
	pub := NewPublisher(path)

	want := Payload{Text: "🔨 work: 20:00", Tooltip: "t", Class: ClassRunning, Percentage: 20, Accent: "#ff5555"}
	if err := pub.Publish(want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, err := pub.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

func TestPublishReplacesAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	pub := NewPublisher(filepath.Join(dir, "out.json"))

	for i := range 3 {
		if err := pub.Publish(Payload{Text: "x", Percentage: i}); err != nil {
			t.Fatalf("Publish #%d: %v", i, err)
		}
	}

	got, err := pub.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.Percentage != 2 {
		t.Errorf("Percentage = %d, want 2", got.Percentage)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("sink dir has %v, want only out.json", names)
	}
}

func TestLoadMissingSink(t *testing.T) {
	pub := NewPublisher(filepath.Join(t.TempDir(), "missing.json"))
	if _, err := pub.Load(); err == nil {
		t.Fatal("expected error for missing sink")
	}
}
