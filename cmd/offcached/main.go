package main

import (
	"context"
	"fmt"
	"os"

	"github.com/unkn0wn-root/offcache/internal/command"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	ctx := context.Background()
	args := os.Args
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "No command specified.")
		args = append(args, "--help")
	}

	app := command.InitApp(ctx)
	if err := app.Run(ctx, args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
