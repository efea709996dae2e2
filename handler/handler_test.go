package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phuhao00/theron/address"
)

func TestTableFuncAdaptsPlainFunction(t *testing.T) {
	var sawTag TypeTag
	var table Table = TableFunc(func(ctx context.Context, actor Actor, tag TypeTag, sender address.Address, payload interface{}) (bool, error) {
		sawTag = tag
		return true, nil
	})

	matched, err := table.Handle(context.Background(), nil, 7, address.Null, nil)
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, TypeTag(7), sawTag)
}

func TestFallbackFuncsDelegatesOnlyWhenSet(t *testing.T) {
	var undeliverableCalled, unhandledCalled bool
	fb := FallbackFuncs{
		OnUndeliverable: func(ctx context.Context, from, to address.Address, tag TypeTag, reason error) {
			undeliverableCalled = true
		},
	}

	fb.Undeliverable(context.Background(), address.Null, address.Null, 1, nil)
	assert.True(t, undeliverableCalled)

	assert.NotPanics(t, func() {
		fb.Unhandled(context.Background(), address.Null, address.Null, 1, nil)
	})
	assert.False(t, unhandledCalled)
}
