// Command relq reads and writes the tables described by a relq config file,
// against a SQL database or a seeded in-memory store, and prints JSON.
package main

import (
	"context"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "relq:", err)
		os.Exit(1)
	}
}
