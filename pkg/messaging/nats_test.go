package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublish(t *testing.T) {
	t.Run("should refuse to publish once the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := (&Client{}).Publish(ctx, SubjectEventDetected, EventNotice{EventID: "ev-1"})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("should report a missing connection", func(t *testing.T) {
		err := (&Client{}).Publish(context.Background(), SubjectEventDetected, EventNotice{})
		assert.ErrorContains(t, err, "not connected")
	})
}
