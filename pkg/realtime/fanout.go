package realtime

import (
	"context"
	"errors"
)

// Publisher pushes real-time events.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
	PublishToUser(ctx context.Context, userID, queue string, payload any) error
}

// Fanout sends every event to all of its publishers. It fails only when
// every publisher failed.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, topic string, payload any) error {
	return f.each(func(p Publisher) error { return p.Publish(ctx, topic, payload) })
}

func (f Fanout) PublishToUser(ctx context.Context, userID, queue string, payload any) error {
	return f.each(func(p Publisher) error { return p.PublishToUser(ctx, userID, queue, payload) })
}

func (f Fanout) each(fn func(Publisher) error) error {
	var errs []error
	for _, p := range f {
		if err := fn(p); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(f) {
		return errors.Join(errs...)
	}
	return nil
}
