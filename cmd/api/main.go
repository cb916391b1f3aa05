// Command api serves the foodpass HTTP and gRPC surfaces without the CLI.
package main

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/foodpass/internal/app"
)

func main() {
	fx.New(app.HTTP, app.EventLogger).Run()
}
