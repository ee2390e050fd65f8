package worker

import (
	"context"

	"github.com/spec-kit/incident-sync/internal/events"
	"github.com/spec-kit/incident-sync/internal/repository"
	"github.com/spec-kit/incident-sync/internal/service"
	syncengine "github.com/spec-kit/incident-sync/internal/sync"
)

// RegisterSyncListeners wires the reconciliation engine to the event bus.
// Listeners run inline after the emitting transaction commits; their failures
// are isolated by the dispatcher and a failed push is only corrected by the
// next change or a manual resync.
func RegisterSyncListeners(dispatcher events.Dispatcher, engine *syncengine.Engine, incidents repository.IncidentRepository) {
	if dispatcher == nil || engine == nil {
		return
	}

	dispatcher.Subscribe(events.EventIncidentCreated, func(ctx context.Context, event events.Event) error {
		incident, err := incidents.GetByID(ctx, event.IncidentID)
		if err != nil {
			return err
		}
		engine.EnsureTicket(ctx, incident)
		return nil
	})

	dispatcher.Subscribe(events.EventIncidentUpdated, func(ctx context.Context, event events.Event) error {
		payload, ok := event.Payload.(events.IncidentUpdatedPayload)
		if !ok {
			return nil
		}
		incident, err := incidents.GetByID(ctx, event.IncidentID)
		if err != nil {
			return err
		}
		engine.PushIncidentChange(ctx, incident, payload.ChangedFields)
		return nil
	})
}

// RegisterNotificationListeners subscribes the notification handlers.
func RegisterNotificationListeners(notifications *service.NotificationService) {
	if notifications == nil {
		return
	}
	notifications.RegisterHandlers()
}
