package events

import "context"

// EventPublisher is the interface for publishing action run events.
type EventPublisher interface {
	PublishAction(ctx context.Context, event *ActionEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (for running with events disabled).
type NoOpPublisher struct{}

// PublishAction is a no-op.
func (p *NoOpPublisher) PublishAction(_ context.Context, _ *ActionEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *ActionEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *ActionEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishAction calls the callback.
func (p *CallbackPublisher) PublishAction(ctx context.Context, event *ActionEvent) error {
	return p.callback(ctx, event)
}
