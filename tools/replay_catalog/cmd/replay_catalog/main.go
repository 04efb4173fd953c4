package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	replaycatalog "pacmanist/server/tools/replay_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing session bundles")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := replaycatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := replaycatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		h := entry.Header
		fmt.Printf("%-20s %6d  %s\n", h.ClientID, h.FinalPoints, h.Result)
		if len(h.Levels) > 0 {
			fmt.Printf("  levels: %s\n", strings.Join(h.Levels, ", "))
		}
		fmt.Printf("  bundle: %s\n", entry.BundlePath)
	}
}
