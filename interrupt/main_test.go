package interrupt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	var order []int
	for i := range 3 {
		AddHandler(func() { order = append(order, i) })
	}
	Run()
	<-HandlersDone
	require.Equal(t, []int{2, 1, 0}, order)
	Run()
	require.Len(t, order, 3)
}
