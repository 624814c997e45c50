package main

import (
	"fmt"
	"os"

	"kpi-dashboard/pkg/cli"
)

func main() {
	// Sous-commandes : migrate, load, kpi, verify, serve
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kpi-dashboard: %v\n", err)
		os.Exit(1)
	}
}
