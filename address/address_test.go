package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPacksAndUnpacksFields(t *testing.T) {
	a := New(0xBEEF, 0xCAFE, 0xABC, 0x12345)
	assert.Equal(t, uint16(0xBEEF), a.Host())
	assert.Equal(t, uint16(0xCAFE), a.Process())
	assert.Equal(t, uint16(0xABC), a.Framework())
	assert.Equal(t, uint32(0x12345), a.Index())
}

func TestNewMasksOverflowingFields(t *testing.T) {
	a := New(1, 1, uint16(MaxFramework)+5, MaxIndex+5)
	assert.LessOrEqual(t, uint32(a.Framework()), MaxFramework)
	assert.LessOrEqual(t, a.Index(), MaxIndex)
}

func TestNullAddress(t *testing.T) {
	require.True(t, Null.IsNull())
	require.False(t, Null.IsReceiver())

	a := New(1, 1, 1, 1)
	assert.False(t, a.IsNull())
}

func TestIsReceiver(t *testing.T) {
	recv := New(1, 1, uint16(ReceiverFramework), 7)
	assert.True(t, recv.IsReceiver())

	actor := New(1, 1, 3, 7)
	assert.False(t, actor.IsReceiver())
}

func TestStringRendersAllFields(t *testing.T) {
	a := New(1, 2, 3, 4)
	assert.Equal(t, "1:2:3:4", a.String())
}

func TestAddressIsComparable(t *testing.T) {
	a := New(1, 2, 3, 4)
	b := New(1, 2, 3, 4)
	c := New(1, 2, 3, 5)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
