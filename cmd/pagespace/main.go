package main

import (
	"log"

	"github.com/2witstudios/pagespace/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
