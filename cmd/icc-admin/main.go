package main

import (
	"fmt"
	"os"

	"github.com/sandeepkv93/icc-admin-auth/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
