// Package pubsubtransport wires a follower.RefreshSignal to a libp2p
// gossipsub topic, so an operator-triggered "rebuild everything" request
// published anywhere on the topic reaches every follower replica listening
// on it.
package pubsubtransport

import (
	"context"

	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/peer"
	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"github.com/sentrysync/metafollower/common/logging"
	"github.com/sentrysync/metafollower/follower"
)

// Topic is the single name this transport uses. Every process in a
// deployment that wants to receive and honor operator refresh requests must
// join it.
const Topic = "metafollower/refresh/v1"

// Transport joins Topic on a libp2p host and forwards every message it sees
// to a follower.RefreshSignal.
type Transport struct {
	signal *follower.RefreshSignal
	logger *logging.Logger

	topic *pubsub.Topic
	sub   *pubsub.Subscription
}

// New creates a gossipsub router on h, joins Topic, and subscribes.
func New(ctx context.Context, h host.Host, signal *follower.RefreshSignal) (*Transport, error) {
	router, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	topic, err := router.Join(Topic)
	if err != nil {
		return nil, err
	}

	sub, err := topic.Subscribe()
	if err != nil {
		return nil, err
	}

	t := &Transport{
		signal: signal,
		logger: logging.GetLogger("pubsubtransport"),
		topic:  topic,
		sub:    sub,
	}

	go t.readLoop(ctx, h.ID())
	return t, nil
}

func (t *Transport) readLoop(ctx context.Context, self peer.ID) {
	for {
		msg, err := t.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("pubsub subscription read failed, retrying", "err", err)
			continue
		}

		// Ignore our own publications; the only observable effect of a
		// refresh request is the flag it sets, which we already set
		// locally in Publish.
		if msg.ReceivedFrom == self {
			continue
		}

		t.signal.OnMessage(Topic, msg.Data)
	}
}

// Publish broadcasts a refresh request to the topic and latches the local
// signal immediately, so the publishing process doesn't wait on its own
// round trip through the network.
func (t *Transport) Publish(ctx context.Context, data []byte) error {
	t.signal.OnMessage(Topic, data)
	return t.topic.Publish(ctx, data)
}

// Close leaves the topic and cancels the subscription.
func (t *Transport) Close() {
	t.sub.Cancel()
	if err := t.topic.Close(); err != nil {
		t.logger.Warn("error closing pubsub topic", "err", err)
	}
}
