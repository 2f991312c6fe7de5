package main

import (
	"os"

	"github.com/timgates42/mako/cli/server"
	"github.com/timgates42/mako/pkg/config"
	"github.com/urfave/cli"
)

func main() {
	ctl := cli.NewApp()
	ctl.Name = "mako"
	ctl.Version = config.Version
	ctl.Usage = "p2p networking node"
	ctl.Commands = server.NewCommands()

	if err := ctl.Run(os.Args); err != nil {
		panic(err)
	}
}
