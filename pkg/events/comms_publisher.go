package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/opsmesh/fleet-agent/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// GlobalEventSubject overrides the global event subject (e.g. from AGENT_EVENT_SUBJECT).
	GlobalEventSubject string
}

// CommsPublisher publishes action run events to COMMS subjects.
type CommsPublisher struct {
	nc                 *comms.Conn
	globalEventSubject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	globalSubject := commsutil.SubjectEvents
	if opts != nil && opts.GlobalEventSubject != "" {
		globalSubject = opts.GlobalEventSubject
	}
	return &CommsPublisher{nc: nc, globalEventSubject: globalSubject}
}

// PublishAction publishes an ActionEvent to both the granular per-agent
// and the global event subjects. Delivery is advisory: failures are
// logged here and must never fail the request that produced the event.
func (p *CommsPublisher) PublishAction(_ context.Context, event *ActionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	// Publish to granular subject
	granularSubject := commsutil.BuildEventSubject(event.Agent)
	if err := p.nc.Publish(granularSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, granularSubject, err))
		return err
	}

	// Publish to global subject
	if err := p.nc.Publish(p.globalEventSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.globalEventSubject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published event for request %s", commsPublisherLogPrefix, event.RequestID))
	return nil
}
