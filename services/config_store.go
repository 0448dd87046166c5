package services

import (
	"fmt"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"

	"waiting-room/internal/status"
	"waiting-room/models"
)

// ConfigStore provides per-event capacity policy. Absence of a config fails
// the request; the engine never invents a default.
type ConfigStore interface {
	Get(eventID string) (*models.QueueConfig, error)
}

const configsCollection = "queue_configs"

// ConfigRecords reads and writes queue configs in PocketBase.
type ConfigRecords struct {
	app core.App
}

func NewConfigRecords(app core.App) *ConfigRecords {
	return &ConfigRecords{app: app}
}

func (s *ConfigRecords) Get(eventID string) (*models.QueueConfig, error) {
	record, err := s.find(eventID)
	if err != nil {
		return nil, status.ErrConfigNotFound
	}
	return configFromRecord(record), nil
}

// Set upserts the capacity policy for an event.
func (s *ConfigRecords) Set(cfg *models.QueueConfig) (*models.QueueConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	record, err := s.find(cfg.EventID)
	if err != nil {
		collection, err := s.app.FindCollectionByNameOrId(configsCollection)
		if err != nil {
			return nil, fmt.Errorf("config store: %w", err)
		}
		record = core.NewRecord(collection)
		record.Set("event_id", cfg.EventID)
	}

	record.Set("max_concurrent", cfg.MaxConcurrent)
	record.Set("max_users", cfg.MaxUsers)

	if err := s.app.Save(record); err != nil {
		return nil, fmt.Errorf("config store: save: %w", err)
	}
	return configFromRecord(record), nil
}

func (s *ConfigRecords) Delete(eventID string) error {
	record, err := s.find(eventID)
	if err != nil {
		return status.ErrConfigNotFound
	}
	if err := s.app.Delete(record); err != nil {
		return fmt.Errorf("config store: delete: %w", err)
	}
	return nil
}

// ListEventIDs returns every configured eventID straight from SQLite; it
// backs the startup sync of the coordinator's tracked-events set.
func (s *ConfigRecords) ListEventIDs() ([]string, error) {
	var rows []dbx.NullStringMap
	if err := s.app.DB().NewQuery(
		"SELECT event_id FROM queue_configs ORDER BY event_id",
	).All(&rows); err != nil {
		return nil, fmt.Errorf("config store: list: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if id := row["event_id"].String; id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *ConfigRecords) find(eventID string) (*core.Record, error) {
	return s.app.FindFirstRecordByFilter(
		configsCollection,
		"event_id = {:eventId}",
		dbx.Params{"eventId": eventID},
	)
}

func configFromRecord(record *core.Record) *models.QueueConfig {
	return &models.QueueConfig{
		EventID:       record.GetString("event_id"),
		MaxConcurrent: record.GetInt("max_concurrent"),
		MaxUsers:      record.GetInt("max_users"),
		CreatedAt:     record.GetDateTime("created").Time(),
	}
}
