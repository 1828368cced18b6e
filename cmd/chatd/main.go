package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"chatd/internal/app"
	"chatd/pkg/systemd"
)

func main() {
	var (
		cfgPath string
		once    bool
		migrate bool
	)
	flag.StringVar(&cfgPath, "config", "./chatd.yaml", "path to config file (yaml or json)")
	flag.BoolVar(&once, "once", false, "run a single watch cycle and exit")
	flag.BoolVar(&migrate, "migrate", false, "copy flat-file state into the relational backend and exit")
	flag.Parse()

	// Optional .env for local runs; real deployments set the
	// environment via the unit file.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if migrate {
		if err := a.MigrateLegacy(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "fatal migrate:", err)
			os.Exit(1)
		}
		return
	}
	if once {
		if err := a.RunOnce(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "fatal cycle:", err)
			os.Exit(1)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	systemd.NotifyReady()
	go systemd.WatchdogLoop(ctx)

	<-a.Done()

	systemd.NotifyStopping()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		fmt.Fprintln(os.Stderr, "shutdown:", err)
	}
	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
