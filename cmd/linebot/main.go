package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Config string `short:"c" long:"config" default:"linebot.json" description:"Configuration file"`

	Setup SetupCommand `command:"setup" description:"Find the I/O board and mount servo and write a configuration"`
	Run   RunCommand   `command:"run" description:"Follow the configured route"`
	Probe ProbeCommand `command:"probe" description:"Show live line sensor readings and jog the drive"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "linebot - line following robot controller"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
