package main

import (
	"fmt"
	"os"

	"github.com/terrane-io/terrane/internal/cli"

	_ "github.com/terrane-io/terrane/providers/aws"
	_ "github.com/terrane-io/terrane/providers/docker"
	_ "github.com/terrane-io/terrane/providers/null"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
