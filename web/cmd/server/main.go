// Package main runs the detection daemon.
package main

import (
	"go.viam.com/utils"

	"go.markscan.dev/markscan/logging"
	"go.markscan.dev/markscan/web/server"
)

var logger = logging.NewLogger("markscan")

func main() {
	utils.ContextualMain(server.RunServer, logger)
}
