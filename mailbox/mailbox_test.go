package mailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phuhao00/theron/envelope"
)

func TestPushReportsWasEmpty(t *testing.T) {
	m := New()
	wasEmpty := m.Push(&envelope.Envelope{})
	assert.True(t, wasEmpty)

	wasEmpty = m.Push(&envelope.Envelope{})
	assert.False(t, wasEmpty)
}

func TestPopFIFOOrder(t *testing.T) {
	m := New()
	first := &envelope.Envelope{TypeTag: 1}
	second := &envelope.Envelope{TypeTag: 2}
	m.Push(first)
	m.Push(second)

	assert.Same(t, first, m.Pop())
	assert.Same(t, second, m.Pop())
	assert.Nil(t, m.Pop())
}

func TestHeadDoesNotRemove(t *testing.T) {
	m := New()
	env := &envelope.Envelope{}
	m.Push(env)

	assert.Same(t, env, m.Head())
	assert.Equal(t, 1, m.Count())
	assert.Same(t, env, m.Pop())
}

func TestScheduledBit(t *testing.T) {
	m := New()
	assert.False(t, m.IsScheduled())

	wasScheduled := m.MarkScheduled()
	assert.False(t, wasScheduled)
	assert.True(t, m.IsScheduled())

	wasScheduled = m.MarkScheduled()
	assert.True(t, wasScheduled)

	m.ClearScheduled()
	assert.False(t, m.IsScheduled())
}

func TestPushAndScheduleOnlySchedulesOnce(t *testing.T) {
	m := New()
	require.True(t, m.PushAndSchedule(&envelope.Envelope{}))
	assert.False(t, m.PushAndSchedule(&envelope.Envelope{}), "a mailbox already scheduled must not be scheduled again")
	assert.Equal(t, 2, m.Count())
}

func TestPopAndRescheduleReflectsRemainingDepth(t *testing.T) {
	m := New()
	m.PushAndSchedule(&envelope.Envelope{})
	m.Push(&envelope.Envelope{})

	needsReschedule := m.PopAndReschedule()
	assert.True(t, needsReschedule, "one envelope remains after popping the head")
	assert.True(t, m.IsScheduled())

	needsReschedule = m.PopAndReschedule()
	assert.False(t, needsReschedule, "the mailbox is empty after popping the last envelope")
	assert.False(t, m.IsScheduled())
}
