package main

import (
	"context"
	"log"
	"os"

	"github.com/datasite/connector/internal/buildinfo"
	"github.com/datasite/connector/internal/server"
	"github.com/datasite/connector/internal/server/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(ctx, cfg)

	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}

}
