package fgcore

import "fmt"

// DuplicateChannelError is returned by ChannelBuilder.Build when a
// topic is already registered on the builder's context.
type DuplicateChannelError struct {
	Topic string
}

func (e *DuplicateChannelError) Error() string {
	return fmt.Sprintf("fgcore: channel with topic %q already exists", e.Topic)
}

// SchemaRequiredError reports that a topic's message encoding requires
// a schema and none was provided. ChannelBuilder.Build does not check
// for a schema and does not return this error.
type SchemaRequiredError struct {
	Topic string
}

func (e *SchemaRequiredError) Error() string {
	return fmt.Sprintf("fgcore: topic %q requires a schema", e.Topic)
}

// MessageEncodingRequiredError is returned by a channel builder when no
// message encoding was specified.
type MessageEncodingRequiredError struct {
	Topic string
}

func (e *MessageEncodingRequiredError) Error() string {
	return fmt.Sprintf("fgcore: topic %q requires a message encoding", e.Topic)
}

// ValueError reports an invalid argument to a builder or option.
type ValueError struct {
	Msg string
}

func (e *ValueError) Error() string { return "fgcore: " + e.Msg }

// SinkClosedError is surfaced to a sink's own Log implementation once the
// sink has been finalized; it is never returned by Context or Channel.
type SinkClosedError struct {
	SinkID SinkID
}

func (e *SinkClosedError) Error() string {
	return fmt.Sprintf("fgcore: sink %d is closed", e.SinkID)
}

// ConfigurationError reports a missing or invalid builder configuration.
// No function in this module returns it: relay.Sink.Start does not
// check its credentials and returns no error.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return "fgcore: configuration error: " + e.Msg }
