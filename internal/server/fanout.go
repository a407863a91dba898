package server

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// deliveryFailure records one recipient that did not get a payload.
type deliveryFailure struct {
	client *Client
	err    error
}

// deliverEach queues payload for every recipient independently. A failing or
// panicking recipient never prevents delivery to the rest.
func deliverEach(recipients []*Client, payload []byte) []deliveryFailure {
	var failures []deliveryFailure
	for _, recipient := range recipients {
		if err := deliverOne(recipient, payload); err != nil {
			failures = append(failures, deliveryFailure{client: recipient, err: err})
		}
	}
	return failures
}

func deliverOne(c *Client, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: recovered: %v", ErrDeliveryFailure, r)
		}
	}()

	if err := c.enqueue(payload); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailure, err)
	}
	return nil
}

// fanOut encodes event once and delivers it to recipients, logging and
// counting each failure. It returns the number of successful deliveries.
func (h *Hub) fanOut(kind string, recipients []*Client, event any) int {
	if len(recipients) == 0 {
		return 0
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode event", zap.String("event", kind), zap.Error(err))
		return 0
	}

	failures := deliverEach(recipients, payload)
	for _, f := range failures {
		h.metrics.DeliveryFailures.WithLabelValues(kind).Inc()
		h.logger.Warn("delivery failed",
			zap.String("event", kind),
			zap.String("user_id", f.client.userID),
			zap.String("conn_id", f.client.id),
			zap.Error(f.err))
	}
	return len(recipients) - len(failures)
}
