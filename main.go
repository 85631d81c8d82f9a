package main

import (
	"fmt"
	"log"
	"os"

	"irclog/internal"
	"irclog/internal/common"
	"irclog/internal/ui"
)

func main() {
	ctx := common.WaitSignal()

	env := ui.DefaultCfg.Env
	if cfg, err := ui.LoadConfig(); err == nil {
		env = cfg.Env
	}
	logger, err := internal.NewLogger(env)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err = ui.NewConsole(logger, os.Stdout).Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		_ = logger.Sync()
		os.Exit(1)
	}
}
