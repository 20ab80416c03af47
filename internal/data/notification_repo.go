package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
)

// NotificationRepo provides store operations for notification settings.
type NotificationRepo struct {
	DB *sql.DB
}

// NewNotificationRepo creates a new NotificationRepo.
func NewNotificationRepo(db *sql.DB) *NotificationRepo {
	return &NotificationRepo{DB: db}
}

const notificationColumns = `
  id, organization_id, slack_webhook_url, email_recipients, event_types, extra, created_at, updated_at
`

func scanNotificationSettings(row interface{ Scan(...any) error }) (*model.NotificationSettings, error) {
	var s model.NotificationSettings
	var recipients, eventTypes, extra []byte
	if err := row.Scan(
		&s.ID, &s.OrganizationID, &s.SlackWebhookURL, &recipients, &eventTypes, &extra,
		&s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(recipients, &s.EmailRecipients); err != nil {
		return nil, fmt.Errorf("decode email recipients: %w", err)
	}
	if err := json.Unmarshal(eventTypes, &s.EventTypes); err != nil {
		return nil, fmt.Errorf("decode event types: %w", err)
	}
	s.Extra = json.RawMessage(extra)
	return &s, nil
}

// GetByOrganization returns the settings row for one organization.
func (r *NotificationRepo) GetByOrganization(
	ctx context.Context,
	orgID string,
) (*model.NotificationSettings, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notification_settings
		WHERE organization_id = $1`, orgID)
	s, err := scanNotificationSettings(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("notification settings not found")
		}
		return nil, apperrors.MapDBError(err)
	}
	return s, nil
}

// Upsert creates or replaces the settings for one organization.
func (r *NotificationRepo) Upsert(
	ctx context.Context,
	s *model.NotificationSettings,
) (*model.NotificationSettings, error) {
	for _, t := range s.EventTypes {
		if !t.Valid() {
			return nil, apperrors.Validationf("invalid event type %q", t)
		}
	}
	recipients, err := json.Marshal(emptyIfNil(s.EmailRecipients))
	if err != nil {
		return nil, fmt.Errorf("encode email recipients: %w", err)
	}
	eventTypes, err := json.Marshal(emptyEventsIfNil(s.EventTypes))
	if err != nil {
		return nil, fmt.Errorf("encode event types: %w", err)
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO notification_settings
			(organization_id, slack_webhook_url, email_recipients, event_types, extra)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organization_id) DO UPDATE SET
			slack_webhook_url = EXCLUDED.slack_webhook_url,
			email_recipients = EXCLUDED.email_recipients,
			event_types = EXCLUDED.event_types,
			extra = EXCLUDED.extra,
			updated_at = now()
		RETURNING `+notificationColumns,
		s.OrganizationID, s.SlackWebhookURL, recipients, eventTypes, nullableJSON(s.Extra))
	stored, err := scanNotificationSettings(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return stored, nil
}

func emptyIfNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func emptyEventsIfNil(in []model.EventType) []model.EventType {
	if in == nil {
		return []model.EventType{}
	}
	return in
}
