package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	imagemarker "github.com/menta2k/image-marker"
	"github.com/menta2k/image-marker/internal/config"
	"github.com/menta2k/image-marker/pkg/client"
	"github.com/menta2k/image-marker/pkg/llamacpp"
	"github.com/menta2k/image-marker/pkg/ollama"
)

const usage = `usage: %s <command> [flags]

commands:
  serve     run the backend that waits for marked images
  mark      replay an input event stream into a marking session
  describe  ask the vision model about an image
  version   print the version
`

func main() {
	name := filepath.Base(os.Args[0])
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, name)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "mark":
		err = runMark(os.Args[2:])
	case "describe":
		err = runDescribe(os.Args[2:])
	case "version":
		fmt.Println(imagemarker.GetVersion())
	case "-h", "-help", "--help", "help":
		fmt.Fprintf(os.Stdout, usage, name)
	default:
		fmt.Fprintf(os.Stderr, usage, name)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

// newVisionClient creates the vision client selected by cfg.Backend.
func newVisionClient(cfg config.VisionConfig) (client.VisionClient, error) {
	switch cfg.Backend {
	case "ollama":
		url := cfg.URL
		if url == "" {
			url = "http://localhost:11434"
		}
		c, err := ollama.NewClient(url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return c, nil
	case "llamacpp":
		c, err := llamacpp.NewClient(cfg.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown vision backend: %s (use 'ollama' or 'llamacpp')", cfg.Backend)
	}
}
