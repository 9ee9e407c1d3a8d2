package fanout

// FanOut deals values from in round-robin across n outputs.
// Every output closes after in closes and all values have been handed out.
func FanOut[T any](in <-chan T, n int) []<-chan T {
	if n <= 0 {
		n = 1
	}
	outs := make([]chan T, n)
	ro := make([]<-chan T, n)
	for i := 0; i < n; i++ {
		outs[i] = make(chan T)
		ro[i] = outs[i]
	}

	go func() {
		defer func() {
			for _, ch := range outs {
				close(ch)
			}
		}()

		i := 0
		for v := range in {
			outs[i%n] <- v
			i++
		}
	}()

	return ro
}
