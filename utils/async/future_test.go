package async

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAwaitContext(t *testing.T) {
	f := NewFuture[int]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Resolve(3)
	}()
	v, err := AwaitContext(context.Background(), f)
	assert.NoError(t, err)
	assert.Equal(t, 3, v)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = AwaitContext(ctx, NewFuture[int]())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolveTwiceDoesNotBlock(t *testing.T) {
	f := NewFuture[string]()
	assert.True(t, f.Resolve("first"))

	done := make(chan bool, 1)
	go func() { done <- f.Resolve("second") }()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("second Resolve blocked")
	}

	v, err := AwaitContext(context.Background(), f)
	assert.NoError(t, err)
	assert.Equal(t, "first", v)
}
