package webhook

import (
	"context"
	"fmt"
	"net/http"

	"github.com/carlmjohnson/requests"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// maxEmbedsPerCall is the sink's batching limit for one delivery.
const maxEmbedsPerCall = 10

// DeliveryError is any non-success response from a sink. Delivery errors are
// not retried within a tick; the undelivered item stays ahead of the
// watermark and is retried on the next tick.
type DeliveryError struct {
	Status int
	Body   string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("sink returned status %d: %s", e.Status, e.Body)
}

type Dispatcher struct {
	log       *zap.Logger
	transport http.RoundTripper
}

func NewDispatcher(lc fx.Lifecycle, log *zap.Logger, transport http.RoundTripper) *Dispatcher {
	return &Dispatcher{log: log, transport: transport}
}

// Send delivers all embeds for one item in a single call, with the sink
// identity overridden per call and a link button pointing back at the source.
func (d *Dispatcher) Send(ctx context.Context, endpoint string, embeds []Embed, identity Identity, actionLink string) error {
	if len(embeds) > maxEmbedsPerCall {
		embeds = embeds[:maxEmbedsPerCall]
	}

	msg := Message{
		Embeds:    embeds,
		Username:  identity.Name,
		AvatarURL: identity.Avatar,
	}
	if actionLink != "" {
		msg.Components = []Component{LinkButtonRow("Post Link", actionLink)}
	}

	var status int
	var body string
	err := requests.
		URL(endpoint).
		Transport(d.transport).
		BodyJSON(&msg).
		AddValidator(func(resp *http.Response) error {
			status = resp.StatusCode
			return nil
		}).
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		return fmt.Errorf("sink delivery failed: %w", err)
	}

	if status != http.StatusOK && status != http.StatusNoContent {
		return &DeliveryError{Status: status, Body: body}
	}
	return nil
}
