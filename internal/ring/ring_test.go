package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/memwatch-dev/memwatch/internal/pagefault"
)

func TestNewRoundsCapacityToPowerOfTwo(t *testing.T) {
	r := New(10)
	assert.Equal(t, 16, r.Capacity())
}

func TestPushPopRoundTrip(t *testing.T) {
	r := New(4)

	ok := r.Push(pagefault.PageFault{PageBase: 0x1000})
	assert.True(t, ok)

	pf, ok := r.Pop()
	assert.True(t, ok)
	assert.Equal(t, uintptr(0x1000), pf.PageBase)
	assert.NotZero(t, pf.Seq)

	_, ok = r.Pop()
	assert.False(t, ok)
}

func TestPushAssignsIncreasingSeq(t *testing.T) {
	r := New(8)
	r.Push(pagefault.PageFault{PageBase: 1})
	r.Push(pagefault.PageFault{PageBase: 2})

	a, _ := r.Pop()
	b, _ := r.Pop()
	assert.Less(t, a.Seq, b.Seq)
}

func TestPushDropsOnOverflow(t *testing.T) {
	r := New(2)

	assert.True(t, r.Push(pagefault.PageFault{PageBase: 1}))
	assert.True(t, r.Push(pagefault.PageFault{PageBase: 2}))
	assert.False(t, r.Push(pagefault.PageFault{PageBase: 3}))
	assert.Equal(t, uint64(1), r.Dropped())
}

func TestConcurrentProducers(t *testing.T) {
	r := New(1024)

	const producers = 8
	const perProducer = 100

	var wg sync.WaitGroup
	wg.Add(producers)
	for i := 0; i < producers; i++ {
		go func(base uintptr) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				r.Push(pagefault.PageFault{PageBase: base})
			}
		}(uintptr(i))
	}
	wg.Wait()

	count := 0
	for {
		_, ok := r.Pop()
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, producers*perProducer, count)
	assert.Zero(t, r.Dropped())
}
