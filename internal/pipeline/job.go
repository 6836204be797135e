// Package pipeline implements the processing pipeline (spec C5): a router
// that authenticates and dispatches incoming requests, and two independent
// lanes — subscription and database — that own disjoint mutable state and
// never block each other. Grounded on go-server/internal/server/server.go's
// ctx/cancel/sync.WaitGroup run shape and ws/internal/shared's
// dispatch-by-message-kind handlers, generalized from one handler function
// into three channel-driven lanes.
package pipeline

import (
	"github.com/google/uuid"

	"github.com/worldql/worldql-go/internal/protocol"
)

// Job is a request forwarded by the router to a lane, paired with the
// authenticated sender so the lane can reply without re-resolving it.
type Job struct {
	Sender  uuid.UUID
	Request protocol.Request
}
