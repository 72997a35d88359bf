package events

type ProducerOptions func(e *EventProducer)

func WithOutputTopic(topic string) ProducerOptions {
	return func(e *EventProducer) {
		e.topic = topic
	}
}

func WithSource(source string) ProducerOptions {
	return func(e *EventProducer) {
		e.source = source
	}
}

// WithCapacity bounds the number of events waiting for the writer.
func WithCapacity(n int) ProducerOptions {
	return func(e *EventProducer) {
		e.capacity = n
	}
}

type LogOptions func(l *Log)

// WithMirror forwards every recorded event to an asynchronous cloudevents producer.
func WithMirror(p *EventProducer) LogOptions {
	return func(l *Log) {
		l.mirror = p
	}
}

// WithHub lets several components share one wakeup hub.
func WithHub(h *Hub) LogOptions {
	return func(l *Log) {
		l.hub = h
	}
}
