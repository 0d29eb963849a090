package events

import (
	"time"
)

// Event is the base interface for everything published on the bus.
type Event interface {
	EventType() string
	ScheduleID() string
}

// Topics
const (
	TopicNode     = "node"
	TopicSchedule = "schedule"
)

// Event type constants
const (
	EventTypeNodeStatus       = "node.status"
	EventTypeScheduleProgress = "schedule.progress"
)

// NodeStatusEvent is published on every node status transition.
type NodeStatusEvent struct {
	Schedule  string
	Node      string // display form, e.g. [extract,MINUTE,2015-01-14T10:00]
	TaskID    string
	Interval  string
	Code      string
	Terminal  bool
	Failed    bool
	Retries   int
	Err       error
	Timestamp time.Time
}

func (e NodeStatusEvent) EventType() string  { return EventTypeNodeStatus }
func (e NodeStatusEvent) ScheduleID() string { return e.Schedule }

// ScheduleProgressEvent is published while a schedule is being awaited.
type ScheduleProgressEvent struct {
	Schedule  string
	Total     int
	Finished  int
	Skipped   int
	Running   int
	Failed    int
	Pending   int
	Done      bool
	Timestamp time.Time
}

func (e ScheduleProgressEvent) EventType() string  { return EventTypeScheduleProgress }
func (e ScheduleProgressEvent) ScheduleID() string { return e.Schedule }
