package netsvc

import (
	"testing"

	"github.com/evhub-io/evhub/eventapi"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMirrorEvent(t *testing.T) {
	e := &eventapi.Event{
		ExperimentID: 5,
		SessionID:    9,
		DeviceID:     0,
		EventID:      42,
		Type:         eventapi.TypeMouseMove,
		DeviceTime:   1.5,
		LoggedTime:   1.6,
		HubTime:      1.55,
		Payload:      []float64{120, 80},
	}
	w := mirrorEvent(e, 7)

	assert.EqualValues(t, 0, w.ExperimentID)
	assert.EqualValues(t, 0, w.SessionID)
	assert.EqualValues(t, 0, w.EventID)
	assert.EqualValues(t, 7, w.DeviceID)
	assert.Equal(t, e.Type, w.Type)
	assert.Equal(t, e.DeviceTime, w.DeviceTime)
	assert.Equal(t, e.LoggedTime, w.LoggedTime)
	assert.Equal(t, e.HubTime, w.HubTime)
	assert.Equal(t, e.Payload, w.Payload)

	// The original must stay untouched.
	assert.EqualValues(t, 42, e.EventID)
	assert.EqualValues(t, 0, e.DeviceID)
	w.Payload[0] = -1
	assert.EqualValues(t, 120, e.Payload[0])
}

func TestNewPublisherValidation(t *testing.T) {
	_, err := NewPublisher(zap.NewNop(), nil, PublisherConfig{Bind: "tcp://127.0.0.1:1", Instance: 0})
	assert.Error(t, err)

	_, err = NewPublisher(zap.NewNop(), nil, PublisherConfig{
		Bind:     "tcp://127.0.0.1:1",
		Instance: 1,
		Events:   []string{"NO_SUCH_EVENT"},
	})
	assert.Error(t, err)
}
