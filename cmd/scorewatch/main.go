package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"scorewatch/internal/app"
)

func main() {
	var cfgPath string
	flag.StringVarP(&cfgPath, "config", "c", "./config.json", "path to config file (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	reason, err := a.Run(ctx)
	if cerr := a.Close(); cerr != nil {
		fmt.Fprintln(os.Stderr, "close:", cerr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
	}
	os.Exit(reason.ExitCode())
}
