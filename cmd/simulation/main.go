// Firmware simulator: creates virtual serial pairs with socat and answers the
// host's display and robot frames on the far side. Point the display and robot
// links at the host ends to run ShapeBot without hardware.
package main

import (
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"ShapeBot/internal/device"
	"ShapeBot/internal/util"
)

func main() {
	a := cli.NewApp()
	a.Name = "shapebot-sim"
	a.Usage = "emulate the shape display and robot firmware on virtual serial ports"
	a.Flags = []cli.Flag{
		cli.StringFlag{Name: "display-host", Value: "/tmp/ttyShapeDisplay", Usage: "display port for ShapeBot"},
		cli.StringFlag{Name: "display-dev", Value: "/tmp/ttyShapeDisplaySim", Usage: "display port for the emulator"},
		cli.StringFlag{Name: "robot-host", Value: "/tmp/ttyShapeRobot", Usage: "robot port for ShapeBot"},
		cli.StringFlag{Name: "robot-dev", Value: "/tmp/ttyShapeRobotSim", Usage: "robot port for the emulator"},
		cli.IntFlag{Name: "baud", Value: 115200, Usage: "baud rate"},
		cli.IntFlag{Name: "pins", Value: 576, Usage: "display field size"},
		cli.BoolFlag{Name: "no-socat", Usage: "attach to existing devices instead of creating pairs"},
		cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn or error"},
	}
	a.Action = run
	if err := a.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	util.SetupLogger(c.String("log-level"))

	socat := util.NewSocatManager()
	defer socat.Cleanup()

	if !c.Bool("no-socat") {
		pairs := [][2]string{
			{c.String("display-host"), c.String("display-dev")},
			{c.String("robot-host"), c.String("robot-dev")},
		}
		for _, p := range pairs {
			if err := socat.CreatePair(p[0], p[1], 3*time.Second); err != nil {
				return cli.NewExitError("virtual serial: "+err.Error(), 1)
			}
		}
	}

	baud := c.Int("baud")
	firmwares := []*device.Firmware{
		device.NewFirmware("display", device.DisplayFirmware, c.Int("pins"), c.String("display-dev"), baud),
		device.NewFirmware("robot", device.RobotFirmware, 0, c.String("robot-dev"), baud),
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, fw := range firmwares {
		wg.Add(1)
		go func(fw *device.Firmware) {
			defer wg.Done()
			if err := fw.Run(stop); err != nil {
				util.Error("[sim] %s firmware: %v", fw.ID, err)
			}
		}(fw)
	}
	util.Info("[sim] display on %s, robot on %s", c.String("display-host"), c.String("robot-host"))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	util.Info("[sim] shutting down...")
	close(stop)
	wg.Wait()
	return nil
}
