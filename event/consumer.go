package event

// Consumer receives published events.
type Consumer[E any] interface {
	OnEvent(E)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc[E any] func(E)

// OnEvent calls f(e).
func (f ConsumerFunc[E]) OnEvent(e E) { f(e) }
