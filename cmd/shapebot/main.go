// Package main is the entry point of ShapeBot.
// It loads the configuration, constructs the display, robot and tick, serves
// the operator API and waits for an interrupt to shut everything down.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"ShapeBot/internal/app"
	"ShapeBot/internal/core"
	"ShapeBot/internal/util"
)

func main() {
	a := cli.NewApp()
	a.Name = "shapebot"
	a.Usage = "drive the shape display and the omni robot over serial"
	a.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: "configs/config.yml",
			Usage: "path to configuration file",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error (overrides the config)",
		},
		cli.StringFlag{
			Name:  "addr",
			Usage: "operator API listen address (overrides the config)",
		},
	}
	a.Action = run
	if err := a.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfgPath := c.String("config")

	// configure before building so construction warnings honour the flag
	util.SetupLogger(resolveLevel(c.String("log-level"), ""))

	sys, err := core.NewSystem(cfgPath)
	if err != nil {
		return cli.NewExitError("failed to create system: "+err.Error(), 1)
	}
	cfg := sys.Config()

	level := resolveLevel(c.String("log-level"), cfg.Global.LogLevel)
	util.SetupLogger(level)
	util.Info("[main] using config %s (log level %s)", cfgPath, level)

	if err := sys.StartAll(); err != nil {
		return cli.NewExitError("failed to start system: "+err.Error(), 1)
	}

	addr := cfg.API.Addr
	if c.IsSet("addr") {
		addr = c.String("addr")
	}
	web := app.NewApp(sys)
	go func() {
		if err := web.Start(addr); err != nil {
			util.Error("[main] %v", err)
		}
	}()

	// wait for Ctrl+C or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	util.Info("[main] shutting down system...")
	web.Stop()
	sys.StopAll()
	util.Info("[main] system stopped cleanly")
	return nil
}

// resolveLevel prefers the command line level over the configured one.
func resolveLevel(flag, configured string) string {
	if flag != "" {
		return flag
	}
	if configured != "" {
		return configured
	}
	return "info"
}
