//go:build !darwin && !windows

package tinygo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/rsslink/internal/device"
)

func TestWritesGoOutWithoutResponse(t *testing.T) {
	assert.True(t, inferredProps.Has(device.PropWriteWithoutResponse))
	assert.False(t, inferredProps.Has(device.PropWrite), "the session must never pick a confirmed write here")

	g := newGatt("AA:BB", nil, nil, func(*Gatt) {})
	c := &Characteristic{uuid: "89097689", service: "4f5a4acc", props: inferredProps}

	err := g.WriteCharacteristic(c, []byte{1, 20, 0, 1}, true)
	assert.ErrorIs(t, err, device.ErrUnsupported)
	assert.ErrorIs(t, writeWithResponse(c.raw, []byte{1}), device.ErrUnsupported)

	assert.ErrorIs(t, g.WriteCharacteristic(c, []byte{1, 20, 0, 1}, false), device.ErrNotConnected)
}
