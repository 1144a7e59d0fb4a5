package workgroup

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
)

func TestFailureCancelsSiblings(t *testing.T) {
	g := WithContext(context.Background())
	g.Work(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	g.Work(func(context.Context) error {
		return errors.New("listen: address in use")
	})

	assert.ErrorContains(t, g.Wait(), "address in use")
}

func TestParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := WithContext(ctx)
	g.Work(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	cancel()
	assert.NilError(t, g.Wait())
}
