package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCredentials(t *testing.T) {
	t.Parallel()

	root := Credentials{}
	assert.True(t, root.IsRoot())

	user := Credentials{UID: 1000, GID: 100, Groups: []uint32{10, 20}}
	assert.False(t, user.IsRoot())
	assert.True(t, user.InGroup(100))
	assert.True(t, user.InGroup(20))
	assert.False(t, user.InGroup(30))
}

func TestNopRecorder(t *testing.T) {
	t.Parallel()

	var r MetricsRecorder = NopRecorder{}
	assert.NotPanics(t, func() {
		r.RecordCacheHit()
		r.RecordCacheMiss()
		r.RecordEviction()
		r.UpdateResidentNodes(3)
		r.RecordOperation("lookup", 0, nil)
		r.RecordPredicate("accept", 0)
	})
}
