package main

import (
	"context"
	"log"
	"os"

	"github.com/datasite/connector/internal/admincli"
	"github.com/datasite/connector/internal/buildinfo"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := admincli.LoadConfig()
	app := admincli.NewApp(cfg)

	if err := app.Run(ctx, admincli.PositionalArgs(os.Args[1:])); err != nil {
		log.Fatalf("%v", err)
	}

}
