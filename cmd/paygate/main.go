// Command paygate serves the payment gateway restriction dashboard API.
package main

import (
	"os"

	"paygate/internal/app"

	"github.com/charmbracelet/log"
)

func main() {
	if err := app.Run(); err != nil {
		log.Error("paygate stopped", "error", err)
		os.Exit(1)
	}
}
