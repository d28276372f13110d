package advert

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versatilecz/evac/internal/models"
)

func TestDecoder(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want []Record
	}{
		{
			name: "Empty input",
			data: nil,
			want: nil,
		},
		{
			name: "Single record",
			data: []byte{3, 9, 'a', 'b'},
			want: []Record{{Tag: 9, Payload: []byte("ab")}},
		},
		{
			name: "Two records",
			data: []byte{2, 1, 6, 3, 8, 'x', 'y'},
			want: []Record{
				{Tag: 1, Payload: []byte{6}},
				{Tag: 8, Payload: []byte("xy")},
			},
		},
		{
			name: "Zero length stops",
			data: []byte{0, 1, 2, 3},
			want: nil,
		},
		{
			name: "Length one stops",
			data: []byte{2, 1, 6, 1, 9, 3, 8, 'x', 'y'},
			want: []Record{{Tag: 1, Payload: []byte{6}}},
		},
		{
			name: "Truncated record stops",
			data: []byte{2, 1, 6, 9, 22, 210},
			want: []Record{{Tag: 1, Payload: []byte{6}}},
		},
		{
			name: "Length reaching exactly past end stops",
			data: []byte{3, 9, 'a'},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Records(tt.data))
		})
	}
}

func TestDecoderNeverPanicsOnTruncation(t *testing.T) {
	full := []byte{2, 1, 6, 10, 22, 210, 252, 68, 0, 203, 1, 86, 58, 0}
	for i := 0; i <= len(full); i++ {
		assert.NotPanics(t, func() { Records(full[:i]) })
	}
}

func TestDecoderRoundTrip(t *testing.T) {
	records := []Record{
		{Tag: 1, Payload: []byte{6}},
		{Tag: 9, Payload: []byte("button")},
		{Tag: 22, Payload: []byte{210, 252, 1, 2, 3}},
	}
	var data []byte
	for _, r := range records {
		data = append(data, byte(len(r.Payload)+1), r.Tag)
		data = append(data, r.Payload...)
	}

	assert.Equal(t, records, Records(data))
}

func TestDecoderReset(t *testing.T) {
	dec := NewDecoder([]byte{2, 1, 6, 0})
	first, ok := dec.Next()
	require.True(t, ok)
	_, ok = dec.Next()
	require.False(t, ok)

	dec.Reset()
	again, ok := dec.Next()
	require.True(t, ok)
	assert.Equal(t, first, again)
}

func TestInterpret(t *testing.T) {
	button := []byte{10, 22, 210, 252, 0x44, 0, 0, 1, 60, 0x3a, 1}

	t.Run("Battery and button press", func(t *testing.T) {
		dev := &models.Device{Enabled: true}
		res := Interpret(dev, button)

		assert.True(t, res.Changed)
		require.NotNil(t, dev.Battery)
		assert.Equal(t, uint8(60), *dev.Battery)
		assert.Equal(t, []models.EventKind{models.EventButtonPressed}, res.Events)
	})

	t.Run("Disabled device ignores buttons", func(t *testing.T) {
		dev := &models.Device{}
		res := Interpret(dev, button)

		assert.True(t, res.Changed)
		assert.Empty(t, res.Events)
	})

	t.Run("Unchanged battery is not a change", func(t *testing.T) {
		battery := uint8(60)
		dev := &models.Device{Enabled: true, Battery: &battery}
		res := Interpret(dev, button)

		assert.False(t, res.Changed)
		assert.Len(t, res.Events, 1)
	})

	t.Run("Foreign vendor is ignored", func(t *testing.T) {
		dev := &models.Device{Enabled: true}
		res := Interpret(dev, []byte{10, 22, 1, 2, 0, 0, 0, 1, 60, 0, 1, 0})

		assert.False(t, res.Changed)
		assert.Nil(t, dev.Battery)
		assert.Empty(t, res.Events)
	})

	t.Run("Name set only once", func(t *testing.T) {
		dev := &models.Device{}
		res := Interpret(dev, []byte{4, 9, 'b', 't', 'n', 0})
		assert.True(t, res.Changed)
		assert.Equal(t, "btn", dev.Name)

		res = Interpret(dev, []byte{4, 8, 'x', 'y', 'z', 0})
		assert.False(t, res.Changed)
		assert.Equal(t, "btn", dev.Name)
	})

	t.Run("Captured advertisement", func(t *testing.T) {
		data, err := hex.DecodeString("0201060a16d2fc4400cb01563a00")
		require.NoError(t, err)

		dev := &models.Device{Enabled: true}
		res := Interpret(dev, data)
		require.NotNil(t, dev.Battery)
		assert.Equal(t, uint8(86), *dev.Battery)
		assert.Empty(t, res.Events)
	})
}

func TestButtonEvent(t *testing.T) {
	tests := []struct {
		code   byte
		want   models.EventKind
		wantOK bool
	}{
		{0, "", false},
		{1, models.EventButtonPressed, true},
		{2, models.EventButtonDouble, true},
		{3, models.EventButtonTriple, true},
		{4, models.EventButtonLong, true},
		{5, "", false},
		{254, models.EventButtonHold, true},
		{255, "", false},
	}

	for _, tt := range tests {
		got, ok := ButtonEvent(tt.code)
		assert.Equal(t, tt.wantOK, ok, "code %d", tt.code)
		assert.Equal(t, tt.want, got, "code %d", tt.code)
	}
}
