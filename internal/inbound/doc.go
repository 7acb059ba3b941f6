// Package inbound moves webhook updates from the HTTP receiver to the
// single consumer through a durable FIFO queue.
//
// The receiver validates and appends; the consumer pops the oldest row,
// dispatches it and repeats until the queue is empty. A level-triggered
// Signal tells the consumer that work may be available; the queue itself
// remains the only authority on whether it is empty.
package inbound
