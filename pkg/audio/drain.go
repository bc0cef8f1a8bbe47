package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it when a consumer stops early so the producer feeding ch can finish
// instead of blocking on a send forever.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
