package devsvc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventIDSequence(t *testing.T) {
	s := NewState()
	assert.Equal(t, uint64(1), s.NextEventID())
	assert.Equal(t, uint64(2), s.NextEventID())
	assert.Equal(t, uint64(3), s.NextEventID())
}

func TestStartSessionResetsEventIDs(t *testing.T) {
	s := NewState()
	s.StartSession(5, 9)
	s.NextEventID()
	s.NextEventID()

	s.StartSession(5, 10)
	assert.Equal(t, uint64(1), s.NextEventID())

	exp, sess := s.Session()
	assert.Equal(t, uint32(5), exp)
	assert.Equal(t, uint32(10), sess)
}

func TestFilterIDsSurviveSessionRestart(t *testing.T) {
	s := NewState()
	first := s.NextFilterID()
	s.StartSession(1, 1)
	second := s.NextFilterID()
	assert.NotEqual(t, first, second)
	assert.Greater(t, int32(second), int32(first))
}
