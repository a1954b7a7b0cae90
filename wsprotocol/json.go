package wsprotocol

import (
	"encoding/json"
	"fmt"
)

// envelope is used only to sniff the `op` discriminator before
// unmarshaling into the concrete type it names.
type envelope struct {
	Op string `json:"op"`
}

// Server → client JSON messages.

type ServerInfo struct {
	Op                 string            `json:"op"`
	Name               string            `json:"name"`
	SessionID          string            `json:"sessionId"`
	Capabilities       []string          `json:"capabilities"`
	SupportedEncodings []string          `json:"supportedEncodings,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

type StatusLevel uint8

const (
	StatusLevelInfo StatusLevel = iota
	StatusLevelWarning
	StatusLevelError
)

type Status struct {
	Op      string      `json:"op"`
	Level   StatusLevel `json:"level"`
	Message string      `json:"message"`
	ID      *string     `json:"id,omitempty"`
}

type AdvertiseChannel struct {
	ID             uint32  `json:"id"`
	Topic          string  `json:"topic"`
	Encoding       string  `json:"encoding"`
	SchemaName     string  `json:"schemaName"`
	Schema         string  `json:"schema"`
	SchemaEncoding *string `json:"schemaEncoding,omitempty"`
}

type Advertise struct {
	Op       string             `json:"op"`
	Channels []AdvertiseChannel `json:"channels"`
}

type Unadvertise struct {
	Op         string   `json:"op"`
	ChannelIDs []uint32 `json:"channelIds"`
}

type ServiceSchema struct {
	Name     string `json:"name"`
	Encoding string `json:"encoding"`
	Schema   string `json:"schema"`
}

type ServiceDescriptor struct {
	ID              uint32         `json:"id"`
	Name            string         `json:"name"`
	Type            string         `json:"type"`
	RequestSchema   *ServiceSchema `json:"requestSchema,omitempty"`
	ResponseSchema  *ServiceSchema `json:"responseSchema,omitempty"`
}

type AdvertiseServices struct {
	Op       string              `json:"op"`
	Services []ServiceDescriptor `json:"services"`
}

type UnadvertiseServices struct {
	Op         string   `json:"op"`
	ServiceIDs []uint32 `json:"serviceIds"`
}

type Parameter struct {
	Name  string `json:"name"`
	Value any    `json:"value,omitempty"`
	Type  string `json:"type,omitempty"`
}

type ParameterValues struct {
	Op         string      `json:"op"`
	Parameters []Parameter `json:"parameters"`
	ID         *string     `json:"id,omitempty"`
}

type ConnectionGraphUpdate struct {
	Op                string              `json:"op"`
	PublishedTopics   map[string][]string `json:"publishedTopics,omitempty"`
	SubscribedTopics  map[string][]string `json:"subscribedTopics,omitempty"`
	AdvertisedServices map[string][]string `json:"advertisedServices,omitempty"`
	RemovedTopics     []string            `json:"removedTopics,omitempty"`
	RemovedServices   []string            `json:"removedServices,omitempty"`
}

type ServiceCallFailure struct {
	Op        string `json:"op"`
	ServiceID uint32 `json:"serviceId"`
	CallID    uint32 `json:"callId"`
	Message   string `json:"message"`
}

// Client → server JSON messages.

type SubscribeEntry struct {
	ID        uint32 `json:"id"`
	ChannelID uint32 `json:"channelId"`
}

type Subscribe struct {
	Op            string           `json:"op"`
	Subscriptions []SubscribeEntry `json:"subscriptions"`
}

type Unsubscribe struct {
	Op              string   `json:"op"`
	SubscriptionIDs []uint32 `json:"subscriptionIds"`
}

type GetParameters struct {
	Op             string   `json:"op"`
	ParameterNames []string `json:"parameterNames"`
	ID             *string  `json:"id,omitempty"`
}

type SetParameters struct {
	Op         string      `json:"op"`
	Parameters []Parameter `json:"parameters"`
	ID         *string     `json:"id,omitempty"`
}

type SubscribeParameterUpdates struct {
	Op             string   `json:"op"`
	ParameterNames []string `json:"parameterNames"`
}

type UnsubscribeParameterUpdates struct {
	Op             string   `json:"op"`
	ParameterNames []string `json:"parameterNames"`
}

type SubscribeConnectionGraph struct {
	Op string `json:"op"`
}

type UnsubscribeConnectionGraph struct {
	Op string `json:"op"`
}

type FetchAsset struct {
	Op        string `json:"op"`
	URI       string `json:"uri"`
	RequestID uint32 `json:"requestId"`
}

// DecodeJSON sniffs the `op` discriminator and unmarshals data into the
// concrete message type it names. A JSON syntax error, or an op value
// this protocol version does not recognize, is returned to the caller
// to log and continue — per the specified parsing rule, a JSON parse
// error never disconnects the peer.
func DecodeJSON(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wsprotocol: parse json: %w", err)
	}

	var target any
	switch env.Op {
	case "serverInfo":
		target = &ServerInfo{}
	case "status":
		target = &Status{}
	case "advertise":
		target = &Advertise{}
	case "unadvertise":
		target = &Unadvertise{}
	case "advertiseServices":
		target = &AdvertiseServices{}
	case "unadvertiseServices":
		target = &UnadvertiseServices{}
	case "parameterValues":
		target = &ParameterValues{}
	case "connectionGraphUpdate":
		target = &ConnectionGraphUpdate{}
	case "serviceCallFailure":
		target = &ServiceCallFailure{}
	case "subscribe":
		target = &Subscribe{}
	case "unsubscribe":
		target = &Unsubscribe{}
	case "getParameters":
		target = &GetParameters{}
	case "setParameters":
		target = &SetParameters{}
	case "subscribeParameterUpdates":
		target = &SubscribeParameterUpdates{}
	case "unsubscribeParameterUpdates":
		target = &UnsubscribeParameterUpdates{}
	case "subscribeConnectionGraph":
		target = &SubscribeConnectionGraph{}
	case "unsubscribeConnectionGraph":
		target = &UnsubscribeConnectionGraph{}
	case "fetchAsset":
		target = &FetchAsset{}
	default:
		return nil, fmt.Errorf("wsprotocol: unknown json op %q", env.Op)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("wsprotocol: parse json: %w", err)
	}
	return target, nil
}
