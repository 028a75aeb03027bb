// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monisens/monisens/pkg/driver"
)

func TestSink_DispatchPublishesEnvelope(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe("device:3")

	var dispatched []string
	var kinds []driver.Message
	sink := NewSink(hub, "device:3", func(stream string, msg driver.Message) {
		dispatched = append(dispatched, stream)
		kinds = append(kinds, msg)
	})

	sink.Dispatch(driver.SensorMessage{
		Sensor: "temperature",
		Values: []driver.SensorValue{
			{Name: "celsius", Type: driver.TypeFloat64, Value: 21.5},
		},
	})
	sink.Dispatch(driver.CommonMessage{Code: driver.MsgInfo, Text: "calibrated"})

	select {
	case env := <-ch:
		assert.Equal(t, "device:3", env.Stream)
		assert.False(t, env.Received.IsZero())
		msg, ok := env.Msg.(driver.SensorMessage)
		require.True(t, ok)
		assert.Equal(t, "temperature", msg.Sensor)
	case <-time.After(time.Second):
		t.Fatal("expected envelope")
	}

	assert.Equal(t, []string{"device:3", "device:3"}, dispatched)
	require.Len(t, kinds, 2)
	assert.IsType(t, driver.SensorMessage{}, kinds[0])
	assert.IsType(t, driver.CommonMessage{}, kinds[1])
}

func TestSink_DispatchAfterCloseIsDropped(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe("device:3")

	calls := 0
	sink := NewSink(hub, "device:3", func(string, driver.Message) { calls++ })

	sink.Close()
	sink.Dispatch(driver.CommonMessage{Code: driver.MsgInfo, Text: "late"})

	select {
	case <-ch:
		t.Fatal("closed sink must not deliver")
	default:
	}
	assert.Zero(t, calls)
}

func TestSink_ConcurrentDispatch(t *testing.T) {
	hub := NewHub()
	ch, err := hub.SubscribePattern("device:*")
	require.NoError(t, err)

	sink := NewSink(hub, "device:1", nil)

	const workers = 8
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				sink.Dispatch(driver.CommonMessage{Code: driver.MsgInfo, Text: "x"})
			}
		}()
	}
	wg.Wait()

	got := 0
	for {
		select {
		case <-ch:
			got++
		default:
			assert.Equal(t, workers*5, got)
			return
		}
	}
}

func TestNewULID_Monotonic(t *testing.T) {
	a := NewULID()
	b := NewULID()
	assert.Equal(t, -1, a.Compare(b))
}
