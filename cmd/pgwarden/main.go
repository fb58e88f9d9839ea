package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/vvka-141/pgwarden/internal/cli"
	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, debug.Stack())
			os.Exit(pgwarden.ExitPanic)
		}
	}()

	if os.Getenv("PGWARDEN_TEST_PANIC") == "1" {
		panic("test panic")
	}

	if err := cli.Execute(); err != nil {
		os.Exit(pgwarden.ExitCodeForError(err))
	}
}
