// cmd/reconciler/main.go
package main

import (
	"fmt"
	"os"

	"reconciliation-engine/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
