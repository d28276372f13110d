package migrations

import (
	"github.com/pocketbase/pocketbase/core"

	"github.com/versatilecz/evac/internal/repository"
)

func init() {
	core.AppMigrations.Register(func(app core.App) error {
		for _, name := range repository.Collections {
			if _, err := app.FindCollectionByNameOrId(name); err == nil {
				continue
			}

			collection := core.NewBaseCollection(name)

			// entity identity
			collection.Fields.Add(&core.TextField{
				Name:     "uuid",
				Required: true,
				Max:      36,
			})

			// entity body
			collection.Fields.Add(&core.JSONField{
				Name:    "data",
				MaxSize: 1 << 20,
			})

			collection.AddIndex("idx_"+name+"_uuid", true, "uuid", "")

			if err := app.Save(collection); err != nil {
				return err
			}
		}
		return nil
	}, func(app core.App) error {
		for _, name := range repository.Collections {
			collection, err := app.FindCollectionByNameOrId(name)
			if err != nil {
				continue
			}
			if err := app.Delete(collection); err != nil {
				return err
			}
		}
		return nil
	})
}
