package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("turns")

		// event_id is a plain text reference rather than a relation: turns
		// must outlive a deleted queue config, the audit trail is never
		// cascaded away.
		collection.Fields.Add(
			&core.TextField{
				Name:        "event_id",
				Required:    true,
				Presentable: true,
				Max:         64,
			},
			&core.TextField{
				Name:     "user_id",
				Required: true,
				Max:      64,
			},
			&core.SelectField{
				Name:      "state",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"waiting", "active", "abandoned", "completed"},
			},
			&core.NumberField{
				Name:    "position",
				OnlyInt: true,
			},
			&core.TextField{
				Name: "reservation_id",
			},
			&core.DateField{
				Name: "entered_waiting_at",
			},
			&core.DateField{
				Name: "admitted_at",
			},
			&core.DateField{
				Name: "finished_at",
			},
			&core.AutodateField{
				Name:     "created",
				OnCreate: true,
			},
			&core.AutodateField{
				Name:     "updated",
				OnCreate: true,
				OnUpdate: true,
			},
		)

		// At most one open turn per user per event.
		collection.AddIndex("idx_turns_open_unique", true, "event_id, user_id",
			"state IN ('waiting', 'active')")
		collection.AddIndex("idx_turns_event_state", false, "event_id, state", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("turns")
		if err != nil {
			return nil
		}
		return app.Delete(collection)
	})
}
