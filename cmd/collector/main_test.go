package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxiflow/config"
	"taxiflow/ingest"
	"taxiflow/tripdata"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

// fakeMessage implements mqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestHandleMessage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "input")
	b := ingest.NewBatcher(dir, 2, tripdata.DefaultZones)

	handleMessage(b, fakeMessage{topic: "taxiflow/trips/yellow", payload: []byte(`{"PULocationID":161,"DOLocationID":236,"trip_distance":2.5}`)})
	handleMessage(b, fakeMessage{topic: "taxiflow/trips/yellow", payload: []byte(`{"PULocationID":161}`)})
	assert.Equal(t, 1, b.Pending())

	handleMessage(b, fakeMessage{topic: "taxiflow/trips/green", payload: []byte(`{"PULocationID":10,"DOLocationID":50,"trip_distance":4}`)})
	assert.Equal(t, 0, b.Pending())

	files, err := tripdata.ListPending(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestClientOptions(t *testing.T) {
	opts := clientOptions(config.MQTTConfig{URL: "tcp://broker:1883", Topic: "taxiflow/trips/+"}, ingest.NewBatcher(t.TempDir(), 10, tripdata.DefaultZones))

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker:1883", opts.Servers[0].Host)
	assert.True(t, opts.AutoReconnect)
	assert.Contains(t, opts.ClientID, "taxiflow-collector-")
}
