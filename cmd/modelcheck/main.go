package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quietdesk/scribe-engine/internal/config"
	"github.com/quietdesk/scribe-engine/internal/models"
)

func main() {
	cfg, err := config.Load(config.Overrides{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	catalog := models.NewCatalog(cfg.ModelsDir)

	if len(os.Args) > 1 && os.Args[1] == "verify" {
		verifyModels(catalog)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "clean" {
		dryRun := !(len(os.Args) > 2 && os.Args[2] == "apply")
		cleanTempFiles(cfg.ModelsDir, dryRun)
		return
	}

	// Default: catalog listing with on-disk state
	fmt.Printf("Models dir: %s\n\n", cfg.ModelsDir)
	fmt.Println("Model            Accuracy  Speed    Size      State")
	fmt.Println("────────────────────────────────────────────────────────")
	for _, d := range catalog.List() {
		state := "missing"
		if info, err := os.Stat(d.FilePath); err == nil {
			if info.Size() == d.SizeBytes {
				state = "present"
			} else {
				state = fmt.Sprintf("present (%s, expected %s)",
					formatBytes(info.Size()), formatBytes(d.SizeBytes))
			}
		}
		fmt.Printf("%-16s %-9s %-8s %-9s %s\n",
			d.Name, d.Accuracy, d.Speed, formatBytes(d.SizeBytes), state)
	}
}

// verifyModels flags files whose size strays more than a few percent
// from the catalog, the same tolerance the download validator uses.
func verifyModels(catalog *models.Catalog) {
	problems := 0
	for _, d := range catalog.List() {
		info, err := os.Stat(d.FilePath)
		if err != nil {
			continue
		}
		diff := info.Size() - d.SizeBytes
		if diff < 0 {
			diff = -diff
		}
		if diff*100 > d.SizeBytes*5 {
			problems++
			fmt.Printf("%s: size %d differs from expected %d by more than 5%%\n",
				d.Name, info.Size(), d.SizeBytes)
		} else {
			fmt.Printf("%s: ok\n", d.Name)
		}
	}
	if problems > 0 {
		fmt.Printf("\n%d model file(s) look corrupt; delete them and re-download\n", problems)
		os.Exit(1)
	}
}

// cleanTempFiles lists or removes partial download leftovers.
func cleanTempFiles(dir string, dryRun bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", dir, err)
		os.Exit(1)
	}

	found := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".tmp" {
			continue
		}
		found++
		age := "unknown age"
		if info, err := e.Info(); err == nil {
			age = time.Since(info.ModTime()).Round(time.Minute).String()
		}
		if dryRun {
			fmt.Printf("would remove %s (%s old)\n", e.Name(), age)
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			fmt.Fprintf(os.Stderr, "remove %s: %v\n", e.Name(), err)
			continue
		}
		fmt.Printf("removed %s (%s old)\n", e.Name(), age)
	}
	if found == 0 {
		fmt.Println("no partial downloads found")
		return
	}
	if dryRun {
		fmt.Println("\nrun with 'clean apply' to remove them")
	}
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1fGB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.0fMB", float64(n)/(1<<20))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
