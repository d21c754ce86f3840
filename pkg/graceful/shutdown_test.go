package graceful

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rail-service/custody_service/pkg/logger"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestShutdown_Order(t *testing.T) {
	var order []string
	sm := NewShutdownManager(nil, logger.NewNop(), closerFunc(func() error {
		order = append(order, "db")
		return nil
	}))
	sm.Register(ShutdownFunc(func(time.Duration) error {
		order = append(order, "queue")
		return errors.New("still draining")
	}))
	sm.Register(ShutdownFunc(func(time.Duration) error {
		order = append(order, "cron")
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sm.WaitForShutdown(ctx)

	assert.Equal(t, []string{"queue", "cron", "db"}, order)
}
