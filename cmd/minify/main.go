package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/woozymasta/webgis/internal/config"
	"github.com/woozymasta/webgis/internal/server"
)

// Renders the embedded pages with the configured map view so they can be
// served from a static host or inspected.
func main() {
	cfgPath := "config.yaml"
	outDir := "dist"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	if len(os.Args) > 2 {
		outDir = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal("error read config:", err)
	}

	pages, err := server.BuildPages(cfg.Map)
	if err != nil {
		log.Fatal("error build pages:", err)
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		log.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(outDir, "index.html"), pages.Index, 0644); err != nil {
		log.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "login.html"), pages.Login, 0644); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("minify done: index %d bytes, login %d bytes\n", len(pages.Index), len(pages.Login))
}
