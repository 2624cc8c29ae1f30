package engine

// FlushInfo carries the fields the fluid compaction controller needs from
// a flush-completed event (spec §4.2, §6).
//
// Reference: teacher's FlushJobInfo (event_listener.go), trimmed to the
// fields the controller actually consumes.
type FlushInfo struct {
	CFName                  string
	FilePath                string
	TriggeredWritesSlowdown bool
	TriggeredWritesStop     bool
}

// CompactionInfo carries the fields an OnCompactionCompleted callback
// needs (spec §6).
//
// Reference: teacher's CompactionJobInfo (event_listener.go).
type CompactionInfo struct {
	CFName      string
	Status      Status
	InputFiles  []string
	OutputFiles []string
	OutputLevel int
}

// EventListener receives flush and compaction notifications from the
// engine. The fluid compaction controller (C5) and the bulk loader (C6)
// both implement this interface; the bulk loader's implementation makes
// OnFlushCompleted a no-op while it is the active listener (spec §4.3
// "Event suppression").
//
// Reference: teacher's EventListener (event_listener.go), narrowed to the
// two callbacks spec.md's controller contract actually names.
type EventListener interface {
	OnFlushCompleted(db DB, info *FlushInfo)
	OnCompactionCompleted(db DB, info *CompactionInfo)
}
