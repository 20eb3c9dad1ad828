package domain

// MessageBus carries normalized inbound messages from platform adapters
// to the dispatch queue.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	Close()
}
