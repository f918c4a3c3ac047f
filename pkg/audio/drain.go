package audio

// DrainPending discards every value currently buffered in ch without
// blocking and returns how many were dropped. Unlike a range loop it returns
// as soon as the buffer is empty, so it is safe on channels that stay open.
func DrainPending[T any](ch <-chan T) int {
	n := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}
