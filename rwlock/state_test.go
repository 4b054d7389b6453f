package rwlock

import "testing"

import "github.com/stretchr/testify/assert"

func TestCanEnterRead(t *testing.T) {
	assert.True(t, canEnterRead(0))
	assert.True(t, canEnterRead(3))
	assert.False(t, canEnterRead(writeSentinel))
	assert.False(t, canEnterRead(withQueueChanged(0)))
	assert.True(t, canEnterRead(withUpgrade(1))) // ordinary reads coexist with an upgradable reader
}

func TestCanEnterWrite(t *testing.T) {
	assert.True(t, canEnterWrite(0))
	assert.False(t, canEnterWrite(1))
	assert.False(t, canEnterWrite(writeSentinel))
	assert.False(t, canEnterWrite(withQueueChanged(0)))
}

func TestCanEnterReadUpgrade(t *testing.T) {
	assert.True(t, canEnterReadUpgrade(0))
	assert.True(t, canEnterReadUpgrade(5))
	assert.False(t, canEnterReadUpgrade(withUpgrade(0)))
	assert.False(t, canEnterReadUpgrade(withQueueChanged(0)))
	assert.False(t, canEnterReadUpgrade(writeSentinel))
}

func TestCanEnterWriteUpgrade(t *testing.T) {
	assert.True(t, canEnterWriteUpgrade(withUpgrade(1)))
	assert.False(t, canEnterWriteUpgrade(withUpgrade(2)), "a second reader must drain first")
	assert.False(t, canEnterWriteUpgrade(1), "no Upgrade bit set")
	assert.False(t, canEnterWriteUpgrade(writeSentinel|upgradeBit))
}

func TestEnterTargets(t *testing.T) {
	assert.Equal(t, stateWord(1), enterReadTarget(0))
	assert.Equal(t, stateWord(4), enterReadTarget(3))
	assert.Equal(t, writeSentinel, enterWriteTarget(0))

	target := enterReadUpgradeTarget(0)
	assert.True(t, hasUpgrade(target))
	assert.Equal(t, stateWord(1), readCount(target))

	target = enterWriteUpgradeTarget(withUpgrade(1))
	assert.True(t, isWrite(target))
	assert.True(t, hasUpgrade(target))
}

func TestQueuedTransitionWrite(t *testing.T) {
	target, ok := queuedTransition(kindWrite, 5)
	assert.True(t, ok)
	assert.True(t, hasQueueChanged(target))
	assert.Equal(t, stateWord(5), readCount(target))

	_, ok = queuedTransition(kindWrite, withQueueChanged(5))
	assert.False(t, ok, "QueueChanged already set")
}

func TestQueuedTransitionRead(t *testing.T) {
	_, ok := queuedTransition(kindRead, 5)
	assert.False(t, ok, "reads only raise QueueChanged while the lock is exclusive")

	target, ok := queuedTransition(kindRead, writeSentinel)
	assert.True(t, ok)
	assert.True(t, hasQueueChanged(target))
}

func TestQueuedTransitionReadUpgrade(t *testing.T) {
	_, ok := queuedTransition(kindReadUpgrade, writeSentinel|upgradeBit)
	assert.False(t, ok, "only one upgradable reader may ever be outstanding")

	target, ok := queuedTransition(kindReadUpgrade, writeSentinel)
	assert.True(t, ok)
	assert.True(t, hasQueueChanged(target))
}

func TestQueuedTransitionWriteUpgrade(t *testing.T) {
	_, ok := queuedTransition(kindWriteUpgrade, 5)
	assert.False(t, ok, "write-upgrade only queues once the Upgrade bit is already set")

	target, ok := queuedTransition(kindWriteUpgrade, withUpgrade(2))
	assert.True(t, ok)
	assert.True(t, hasQueueChanged(target))
	assert.True(t, hasUpgrade(target))
}

func TestRawStateCAS(t *testing.T) {
	var s rawState
	assert.Equal(t, stateWord(0), s.load())
	assert.True(t, s.cas(0, 7))
	assert.Equal(t, stateWord(7), s.load())
	assert.False(t, s.cas(0, 9), "stale expected value must fail")
}
