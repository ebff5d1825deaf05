package events

import (
	"context"
	"errors"
)

// multiPublisher fans each event out to several publishers.
type multiPublisher []Publisher

// Multi returns a Publisher that delivers every event to each of pubs in
// order. A failing publisher does not stop delivery to the rest; the joined
// errors are returned.
func Multi(pubs ...Publisher) Publisher {
	return multiPublisher(pubs)
}

func (m multiPublisher) Publish(ctx context.Context, topic string, event any) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, topic, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiPublisher) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
