package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"time"
)

// memprofile is set by the hidden --memprofile flag.
var memprofile bool

var memProfiles = []string{"heap", "allocs"}

func maybeWriteMemProfile(dir string) {
	if !memprofile {
		return
	}
	paths, err := writeMemProfiles(dir, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	if len(paths) > 0 {
		fmt.Fprintln(os.Stderr, "Memory profiles:", strings.Join(paths, " "))
	}
}

// writeMemProfiles writes one file per profile into dir, or the working
// directory when dir is empty, and returns the paths written.
func writeMemProfiles(dir string, now time.Time) ([]string, error) {
	if dir == "" {
		dir = "."
	}
	stamp := now.Format("20060102-150405")
	paths := make([]string, 0, len(memProfiles))
	for _, name := range memProfiles {
		path := filepath.Join(dir, fmt.Sprintf("codingagency_%s_%s.profile", name, stamp))
		if err := writeProfile(name, path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeProfile(name, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s profile: %w", name, err)
	}
	if err := pprof.Lookup(name).WriteTo(f, 0); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s profile: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write %s profile: %w", name, err)
	}
	return nil
}
