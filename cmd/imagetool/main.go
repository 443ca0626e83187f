package main

import (
	"os"

	"github.com/imagetool/imagetool/pkg"
	"github.com/imagetool/imagetool/pkg/log"
)

var (
	version = "0.0.1"
)

func main() {
	app := pkg.NewApp(version)
	err := app.Run(os.Args)
	if err != nil {
		log.Errorf("%+v", err)
		os.Exit(1)
	}
}
