package audio

// Drain reads from ch until it is closed, discarding every value. Callers use
// it to let a producer goroutine finish after they stop consuming its stream,
// for example the event channel of a speech-model session during teardown.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
