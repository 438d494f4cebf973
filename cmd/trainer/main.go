package main

import (
	"fmt"
	"os"
)

func main() {
	root := rootCmd()
	root.SetArgs(os.Args[1:])
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "trainer:", err)
		os.Exit(1)
	}
}
