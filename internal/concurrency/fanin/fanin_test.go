package fanin

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFanInMergesAndCloses(t *testing.T) {
	a := make(chan int)
	b := make(chan int)
	go func() {
		for i := 0; i < 3; i++ {
			a <- i
		}
		close(a)
	}()
	go func() {
		for i := 10; i < 12; i++ {
			b <- i
		}
		close(b)
	}()

	var got []int
	for v := range FanIn[int](a, b) {
		got = append(got, v)
	}
	sort.Ints(got)
	assert.Equal(t, []int{0, 1, 2, 10, 11}, got)
}

func TestFanInNoInputs(t *testing.T) {
	_, ok := <-FanIn[int]()
	assert.False(t, ok)
}
