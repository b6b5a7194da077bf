package main

import (
	"log"

	"github.com/m3rciful/botstarter/core/cmd"
	"github.com/m3rciful/botstarter/internal/examplebot"
)

func main() {
	err := cmd.Run(cmd.Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig:        examplebot.LoadConfig,
		Bootstrap:         examplebot.Bootstrap,
	})
	if err != nil {
		log.Fatal(err)
	}
}
