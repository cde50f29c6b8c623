package main

import (
	"fmt"

	"github.com/docopt/docopt-go"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/aptxtools/btw5"
)

const version = "1.1.0"

const usage = `btw5ctl - switch a Creative BT-W5 dongle between AptX Adaptive modes

Usage:
  btw5ctl (hq | ll) [options]
  btw5ctl -h | --help
  btw5ctl --version

Options:
  -v --verbose  Enable debug logging.
  -h --help     Show this screen.
  --version     Show version.

Select hq for High Quality mode or ll for Low Latency mode. Only takes
effect with headphones that support AptX Adaptive.

Requires root (or adjusted permissions on /dev/bus/usb/...).`

func main() {
	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})

	if unix.Geteuid() != 0 {
		log.Fatal("btw5ctl must be run as root. Try using 'sudo'.")
	}

	arguments, err := docopt.ParseArgs(usage, nil, version)
	if err != nil {
		log.Fatal(err)
	}
	if verbose, _ := arguments.Bool("--verbose"); verbose {
		log.SetLevel(log.DebugLevel)
	}

	mode := btw5.ModeHighQuality
	if ll, _ := arguments.Bool("ll"); ll {
		mode = btw5.ModeLowLatency
	}

	// log.Fatal skips deferred calls, so the handle lifecycle lives in run.
	if err := run(mode); err != nil {
		log.Fatal(err)
	}
	fmt.Println("Mode switch successful.")
}

func run(mode btw5.Mode) error {
	handle, err := btw5.Open()
	if err != nil {
		return fmt.Errorf("%w (check that the dongle is plugged in)", err)
	}
	defer handle.Close()

	return btw5.Switch(handle, mode)
}
