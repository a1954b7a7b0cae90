package fgcore

import "time"

// Metadata accompanies a single logged message. Any field left unset
// (nil for the pointer fields) is filled in by the publish path:
// LogTime defaults to now, PublishTime defaults to LogTime, and
// Sequence is drawn from the channel's own counter.
type Metadata struct {
	LogTime     uint64
	PublishTime *uint64
	Sequence    *uint32
}

// resolved is the fully-populated form of Metadata used once it leaves
// Channel.Log; every field is concrete.
type resolved struct {
	LogTime     uint64
	PublishTime uint64
	Sequence    uint32
}

// nowNanos returns the current wall-clock time as nanoseconds since the
// Unix epoch, the unit Metadata.LogTime is specified in.
func nowNanos() uint64 {
	return uint64(time.Now().UnixNano())
}

// fill materializes a resolved metadata value from a possibly-partial
// Metadata, consuming the channel's sequence counter only for fields
// the caller left unset.
func fill(partial Metadata, nextSeq func() uint32) resolved {
	r := resolved{LogTime: partial.LogTime}
	if r.LogTime == 0 {
		r.LogTime = nowNanos()
	}
	if partial.PublishTime != nil {
		r.PublishTime = *partial.PublishTime
	} else {
		r.PublishTime = r.LogTime
	}
	if partial.Sequence != nil {
		r.Sequence = *partial.Sequence
	} else {
		r.Sequence = nextSeq()
	}
	return r
}
