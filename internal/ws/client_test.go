package ws

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/carewire/realtime-service/internal/models"
)

// A fan-out racing another goroutine's teardown of the same connection
// must never panic with a send on the closed outbound channel.
func TestClose_ConcurrentEnqueueSafe(t *testing.T) {
	for i := 0; i < 50; i++ {
		c := NewClient(fakeConn{}, 1, 1000)
		c.authenticate("sess-alice", "alice", models.RolePatient, time.Now().Add(time.Hour))

		start := make(chan struct{})
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				<-start
				for j := 0; j < 200; j++ {
					c.enqueue([]byte("x"))
					c.deliverMessage(fmt.Sprintf("m-%d-%d", g, j), []byte("y"))
				}
			}(g)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			c.close()
		}()
		close(start)
		wg.Wait()

		assert.False(t, c.enqueue([]byte("late")))
		assert.Equal(t, StateClosed, c.State())
	}
}
