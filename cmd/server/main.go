// Command server starts the HTTP server: parse flags, build the app, run
// until signaled.
package main

import (
	"log"

	"github.com/searchktools/fast-server/app"
	"github.com/searchktools/fast-server/config"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("server: %v", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("server: %v", err)
	}

	if err := a.Run(); err != nil {
		log.Fatalf("server: %v", err)
	}
}
