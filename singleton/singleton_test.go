package singleton

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/atomic"
)

type TestUser struct {
	ID       uint
	Username string
	Age      int
}

func TestNew(t *testing.T) {
	var usr = New(func() *TestUser {
		return &TestUser{
			ID:       10,
			Username: "bob",
			Age:      18,
		}
	})
	t.Logf("usr %v", usr)
	usr1 := New(func() *TestUser {
		return &TestUser{
			ID:       11,
			Username: "alice",
			Age:      20,
		}
	})

	assert.Same(t, usr, usr1)
	assert.Equal(t, "bob", usr1.Username)
	assert.True(t, Of[*TestUser](Default).Has())
}

type TestCounter struct {
	N int
}

func TestNewConcurrent(t *testing.T) {
	var (
		calls   atomic.Int64
		wg      sync.WaitGroup
		results = make([]*TestCounter, 1000)
	)

	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = New(func() *TestCounter {
				calls.Inc()
				return &TestCounter{N: i}
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for i := 1; i < len(results); i++ {
		assert.Same(t, results[0], results[i])
	}
}
