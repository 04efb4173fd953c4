package main

import (
	"flag"
	"fmt"
	"os"

	"pacmanist/server/internal/replay"
	replayplayer "pacmanist/server/tools/replay_player"
)

func main() {
	path := flag.String("path", "", "Path to a session bundle directory or its manifest.json")
	format := flag.String("format", "text", "Output format: text or json")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "path flag is required")
		os.Exit(1)
	}

	bundle, err := replay.OpenBundle(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	if err := replayplayer.Render(os.Stdout, bundle, replayplayer.Format(*format)); err != nil {
		fmt.Fprintln(os.Stderr, "render error:", err)
		os.Exit(3)
	}
}
