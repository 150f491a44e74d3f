package resolver

import (
	"fmt"

	"github.com/udisondev/shortid/internal/model"
)

type jobKind uint8

const (
	kindID jobKind = iota + 1
	kindAlias
)

// Job is one pending resolution, keyed either by a LongID (get-or-create)
// or by a ShortAlias (reverse lookup). Jobs are comparable and are used
// directly as dedup keys.
type Job struct {
	kind  jobKind
	id    model.LongID
	alias model.ShortAlias
}

// ForID returns the get-or-create job for id.
func ForID(id model.LongID) Job {
	return Job{kind: kindID, id: id}
}

// ForAlias returns the reverse lookup job for alias.
func ForAlias(alias model.ShortAlias) Job {
	return Job{kind: kindAlias, alias: alias}
}

func (j Job) String() string {
	switch j.kind {
	case kindID:
		return "id:" + j.id.String()
	case kindAlias:
		return "alias:" + j.alias.String()
	default:
		return fmt.Sprintf("job(kind=%d)", j.kind)
	}
}

// State is the lifecycle position of a pending job.
type State uint8

const (
	StateQueued State = iota
	StateExecuting
	StateRetrying
	StateSucceeded
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateExecuting:
		return "executing"
	case StateRetrying:
		return "retrying"
	case StateSucceeded:
		return "succeeded"
	case StateFatal:
		return "fatal"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}
