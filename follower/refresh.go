package follower

import (
	"fmt"
	"sync/atomic"

	"github.com/sentrysync/metafollower/common/logging"
)

// RefreshSignal is a one-shot latched flag, set by a pub/sub subscriber and
// consumed (test-and-clear) once per tick by the FollowerLoop.
type RefreshSignal struct {
	topic string
	flag  int32 // atomic: 0 = clear, 1 = set

	logger *logging.Logger
}

// NewRefreshSignal constructs a RefreshSignal that only accepts messages
// delivered on the given topic; any other topic is a contract violation.
func NewRefreshSignal(topic string) *RefreshSignal {
	return &RefreshSignal{
		topic:  topic,
		logger: logging.GetLogger("follower/refresh"),
	}
}

// OnMessage is the pub/sub subscriber capability: any message on the
// expected topic latches the flag. A topic mismatch is a contract violation
// and panics rather than silently misrouting a message onto the wrong
// follower's refresh flag.
func (r *RefreshSignal) OnMessage(topic string, body []byte) {
	if topic != r.topic {
		panic(fmt.Sprintf("follower: refresh signal received message on unexpected topic %q (want %q)", topic, r.topic))
	}

	r.logger.Info("force-refresh signal received", "topic", topic)
	atomic.StoreInt32(&r.flag, 1)
}

// TestAndClear atomically reads and clears the latched flag, returning
// whether it was set.
func (r *RefreshSignal) TestAndClear() bool {
	return atomic.CompareAndSwapInt32(&r.flag, 1, 0)
}

// Set latches the flag directly, without going through a pub/sub message.
// Used by operator-facing admin surfaces that want to force a refresh
// without round-tripping through the message bus.
func (r *RefreshSignal) Set() {
	atomic.StoreInt32(&r.flag, 1)
}
