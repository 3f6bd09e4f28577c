package util

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/htab/lib/hmap"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("Line exceeds %d characters: %q", Wrap, line)
		}
	}
	if got := WrapString("short text"); got != "short text" {
		t.Errorf("Short text should not be wrapped, got %q", got)
	}
}

// newBoundCommand creates a command with the table flags bound to a fresh viper state
func newBoundCommand(t *testing.T, args ...string) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: "test"}
	SetupTableFlags(cmd)
	if err := cmd.PersistentFlags().Parse(args); err != nil {
		t.Fatalf("Parsing flags failed: %v", err)
	}
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		t.Fatalf("Binding flags failed: %v", err)
	}
}

func TestGetTableOptions(t *testing.T) {
	newBoundCommand(t, "--variant=lru", "--key-size=16", "--max-entries=64", "--cpus=3", "--per-cpu-lru")

	opts, err := GetTableOptions()
	if err != nil {
		t.Fatalf("GetTableOptions failed: %v", err)
	}
	if opts.Variant != hmap.LRU || opts.KeySize != 16 || opts.MaxEntries != 64 || opts.NumCPU != 3 || !opts.PerCPULRU {
		t.Errorf("Unexpected options: %s", opts)
	}
	if opts.Allocation != hmap.Preallocated {
		t.Errorf("Expected preallocated storage, got %s", opts.Allocation)
	}
}

func TestGetTableOptionsInvalid(t *testing.T) {
	for _, arg := range []string{"--variant=huge", "--allocation=mmap", "--hasher=md5"} {
		newBoundCommand(t, arg)
		if _, err := GetTableOptions(); err == nil {
			t.Errorf("Expected an error for %s", arg)
		}
	}
}
