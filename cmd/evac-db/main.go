// Command evac-db runs an embedded PocketBase with the evac collections
package main

import (
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"

	"github.com/versatilecz/evac/internal/logging"
	_ "github.com/versatilecz/evac/migrations"
)

func main() {
	app := pocketbase.New()

	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: false,
	})

	if err := app.Start(); err != nil {
		logging.Log.WithError(err).Fatal("PocketBase failed")
	}
}
