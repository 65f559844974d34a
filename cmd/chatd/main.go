package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/campuschat/internal/account"
	"github.com/matheus3301/campuschat/internal/config"
	"github.com/matheus3301/campuschat/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	accountFlag := flag.String("account", "", "account name (overrides config default)")
	debugFlag := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	cfg, err := config.Resolve(account.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}

	name := account.Resolve(*accountFlag, cfg)
	if err := account.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Account: name, Config: cfg, Debug: *debugFlag}),
	)

	app.Run()
}
