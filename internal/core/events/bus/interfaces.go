package bus

import "time"

// Event types published by the simulator core.
const (
	TypeTaskState = "task.state"
	TypeACParams  = "task.ac_params"
	TypeScene     = "render.scene"
	TypeTaskSwap  = "task.switched"
)

// TopicTelemetry is the topic the core publishes downstream records on.
const TopicTelemetry = "telemetry"

// EventBus is a thread-safe, in-process pub/sub bus that carries the telemetry records
// produced by the control and render loops to transport adapters.
//
// - Handlers subscribe to one event type of one topic.
// - PublishToTopic calls handlers synchronously in the caller goroutine and joins their errors.
// - Metrics are collected only while at least one observer is registered.
type EventBus interface {
	CreateTopic(name string) error
	SubscribeTopic(topic, eventType string, handler EventHandler) (Subscription, error)
	Unsubscribe(Subscription) error
	PublishToTopic(topic string, event Event) error

	AddObserver(obs EventBusObserver)
	RemoveObserver(obs EventBusObserver)
	GetMetrics() EventBusMetrics
	GetTopics() []TopicInfo
}

// Event is an immutable message transported by the EventBus.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
}

// EventHandler is invoked per delivered event; returned errors are joined by PublishToTopic.
type EventHandler func(event Event) error

// Subscription represents a registered handler bound to an event type.
type Subscription interface {
	ID() string
	EventType() string
	IsActive() bool
	// Cancel de-registers the handler. Multiple calls are safe.
	Cancel() error
}

// EventBusObserver is notified about deliveries and errors.
type EventBusObserver interface {
	OnPublish(topic, eventType string, event Event)
	OnDelivered(topic, eventType string, handlers int, err error, duration time.Duration)
}

// EventBusMetrics is updated only while at least one observer is registered.
type EventBusMetrics struct {
	Published         uint64 `json:"published"`
	DeliveredHandlers uint64 `json:"delivered_handlers"`
	Errors            uint64 `json:"errors"`
	SubscribersActive uint64 `json:"subscribers_active"`
	Topics            uint64 `json:"topics"`
}

// TopicInfo provides a minimal snapshot about a topic.
type TopicInfo struct {
	Name       string `json:"name"`
	EventTypes int    `json:"event_types"`
	Subs       int    `json:"subscribers"`
}
