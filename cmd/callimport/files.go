package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// importExts are the file extensions picked up when a directory is given.
var importExts = map[string]bool{
	".csv":  true,
	".tsv":  true,
	".txt":  true,
	".xlsx": true,
	".gz":   true,
	".zst":  true,
	".xz":   true,
}

// expandInputs replaces each directory argument with the import files it
// directly contains, in name order. Subdirectories are not descended into.
// Plain file arguments and "-" pass through untouched.
func expandInputs(args []string) ([]string, error) {
	files := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == "-" {
			files = append(files, arg)
			continue
		}

		info, err := os.Stat(arg)
		if err != nil || !info.IsDir() {
			// Missing files are reported per file by the import loop.
			files = append(files, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("reading directory %s: %w", arg, err)
		}

		found := 0
		for _, entry := range entries {
			if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			if !importExts[strings.ToLower(filepath.Ext(entry.Name()))] {
				continue
			}
			files = append(files, filepath.Join(arg, entry.Name()))
			found++
		}
		if found == 0 {
			return nil, fmt.Errorf("no call log files in directory %s", arg)
		}
	}
	return files, nil
}
