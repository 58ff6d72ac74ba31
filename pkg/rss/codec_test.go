package rss_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/rsslink/pkg/rss"
)

func TestDecodeConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		want    rss.ConfigurationPackage
		text    string
		wantErr bool
	}{
		{
			name:  "size with single cutoff",
			input: []byte{1, 20, 0, 1},
			want:  rss.SizeConfiguration(20, 0, rss.BeltRunning),
			text:  "mode=size cutoff=20cm belt=running",
		},
		{
			name:  "size with two cutoffs",
			input: []byte{1, 10, 45, 0},
			want:  rss.SizeConfiguration(10, 45, rss.BeltStopped),
			text:  "mode=size cutoffs=10cm,45cm belt=stopped",
		},
		{
			name:  "color",
			input: []byte{2, 3, 5, 0},
			want:  rss.ColorConfiguration(rss.Yellow, rss.Purple, rss.BeltStopped),
			text:  "mode=color colors=yellow,purple belt=stopped",
		},
		{
			name:  "defect",
			input: []byte{3, 1, 0, 1},
			want:  rss.DefectConfiguration(rss.BeltRunning),
			text:  "mode=defect belt=running",
		},
		{name: "empty", input: nil, wantErr: true},
		{name: "too short", input: []byte{1, 20, 0}, wantErr: true},
		{name: "too long", input: []byte{1, 20, 0, 1, 0}, wantErr: true},
		{name: "unknown mode", input: []byte{0, 20, 0, 1}, wantErr: true},
		{name: "unknown belt", input: []byte{1, 20, 0, 2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rss.DecodeConfiguration(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, rss.ErrInvalidConfiguration))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.text, got.String())
			assert.Equal(t, tt.input, got.Bytes())
		})
	}
}

func TestConfigurationAccessors(t *testing.T) {
	size, err := rss.DecodeConfiguration([]byte{1, 20, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, rss.ModeSize, size.Mode)
	c1, c2 := size.Cutoffs()
	assert.EqualValues(t, 20, c1)
	assert.EqualValues(t, 0, c2)
	assert.Equal(t, rss.BeltRunning, size.Belt)

	color, err := rss.DecodeConfiguration([]byte{2, 3, 5, 0})
	require.NoError(t, err)
	assert.Equal(t, rss.ModeColor, color.Mode)
	k1, k2 := color.Colors()
	assert.Equal(t, rss.Yellow, k1)
	assert.Equal(t, rss.Purple, k2)
	assert.Equal(t, rss.BeltStopped, color.Belt)
}

func TestConfigurationValidate(t *testing.T) {
	tests := []struct {
		name string
		pkg  rss.ConfigurationPackage
		ok   bool
	}{
		{"size single cutoff", rss.SizeConfiguration(20, 0, rss.BeltRunning), true},
		{"size two cutoffs", rss.SizeConfiguration(20, 99, rss.BeltRunning), true},
		{"size cutoff zero", rss.SizeConfiguration(0, 0, rss.BeltRunning), false},
		{"size cutoff at limit", rss.SizeConfiguration(100, 0, rss.BeltRunning), false},
		{"size cutoffs equal", rss.SizeConfiguration(20, 20, rss.BeltRunning), false},
		{"size cutoffs reversed", rss.SizeConfiguration(50, 20, rss.BeltRunning), false},
		{"size second over limit", rss.SizeConfiguration(20, 100, rss.BeltRunning), false},
		{"color one", rss.ColorConfiguration(rss.Red, rss.ColorNone, rss.BeltStopped), true},
		{"color two", rss.ColorConfiguration(rss.Green, rss.Brown, rss.BeltStopped), true},
		{"color none", rss.ColorConfiguration(rss.ColorNone, rss.Red, rss.BeltStopped), false},
		{"color unknown", rss.ColorConfiguration(rss.Color(7), rss.ColorNone, rss.BeltStopped), false},
		{"color second unknown", rss.ColorConfiguration(rss.Red, rss.Color(9), rss.BeltStopped), false},
		{"defect", rss.DefectConfiguration(rss.BeltStopped), true},
		{"defect bad params", rss.ConfigurationPackage{Mode: rss.ModeDefect, Param1: 2}, false},
		{"unknown mode", rss.ConfigurationPackage{Mode: 4, Param1: 1}, false},
		{"unknown belt", rss.ConfigurationPackage{Mode: rss.ModeSize, Param1: 10, Belt: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pkg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, rss.ErrInvalidConfiguration)
			}
		})
	}
}

func TestWithBeltKeepsModeAndParameters(t *testing.T) {
	orig := rss.ColorConfiguration(rss.Orange, rss.Green, rss.BeltStopped)
	started := orig.WithBelt(rss.BeltRunning)

	assert.Equal(t, []byte{2, 2, 4, 1}, started.Bytes())
	assert.Equal(t, rss.BeltStopped, orig.Belt, "WithBelt must not modify the receiver")
}

func TestParseColor(t *testing.T) {
	c, err := rss.ParseColor(" Purple ")
	require.NoError(t, err)
	assert.Equal(t, rss.Purple, c)

	c, err = rss.ParseColor("none")
	require.NoError(t, err)
	assert.Equal(t, rss.ColorNone, c)

	_, err = rss.ParseColor("blue")
	assert.Error(t, err)

	assert.Equal(t, "color(9)", rss.Color(9).String())
}

func TestDecodeWeight(t *testing.T) {
	tests := []struct {
		name      string
		input     []byte
		bins      []rss.BinWeight
		status    uint8
		hasStatus bool
		text      string
	}{
		{
			name:      "bins with status",
			input:     []byte{12, 34, 0},
			bins:      []rss.BinWeight{{Value: 12}, {Value: 34}},
			hasStatus: true,
			text:      "bins=[12 34] sensor=ok",
		},
		{
			name:  "single byte is one bin",
			input: []byte{7},
			bins:  []rss.BinWeight{{Value: 7}},
			text:  "bins=[7]",
		},
		{
			name:      "fault in first bin",
			input:     []byte{255, 40, 0},
			bins:      []rss.BinWeight{{Fault: true}, {Value: 40}},
			hasStatus: true,
			text:      "bins=[fault 40] sensor=ok",
		},
		{
			name:      "fault in last bin with sensor error",
			input:     []byte{1, 2, 255, 3},
			bins:      []rss.BinWeight{{Value: 1}, {Value: 2}, {Fault: true}},
			status:    3,
			hasStatus: true,
			text:      "bins=[1 2 fault] sensor=0x03",
		},
		{
			name:  "single fault byte",
			input: []byte{255},
			bins:  []rss.BinWeight{{Fault: true}},
			text:  "bins=[fault]",
		},
		{
			name:      "status only",
			input:     []byte{5, 0},
			bins:      []rss.BinWeight{{Value: 5}},
			hasStatus: true,
			text:      "bins=[5] sensor=ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rss.DecodeWeight(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.bins, got.Bins)
			assert.Equal(t, tt.status, got.SensorStatus)
			assert.Equal(t, tt.hasStatus, got.HasStatus)
			assert.Equal(t, tt.input, got.Raw)
			assert.Equal(t, tt.text, got.String())
		})
	}
}

func TestDecodeWeightFaultIsNeverAValue(t *testing.T) {
	for i := 0; i < 4; i++ {
		raw := []byte{10, 20, 30, 40, 0}
		raw[i] = 255

		got, err := rss.DecodeWeight(raw)
		require.NoError(t, err)
		assert.True(t, got.Bins[i].Fault)
		assert.Zero(t, got.Bins[i].Value)
		assert.Equal(t, []int{i}, got.Faults())
	}
}

func TestDecodeWeightEmpty(t *testing.T) {
	_, err := rss.DecodeWeight(nil)
	assert.ErrorIs(t, err, rss.ErrInvalidWeight)
}

func TestDecodeWeightCopiesInput(t *testing.T) {
	raw := []byte{1, 2, 0}
	got, err := rss.DecodeWeight(raw)
	require.NoError(t, err)

	raw[0] = 99
	assert.EqualValues(t, 1, got.Bins[0].Value)
	assert.EqualValues(t, 1, got.Raw[0])
}

func TestSensorOK(t *testing.T) {
	ok, _ := rss.DecodeWeight([]byte{1, 0})
	assert.True(t, ok.SensorOK())

	bad, _ := rss.DecodeWeight([]byte{1, 4})
	assert.False(t, bad.SensorOK())

	single, _ := rss.DecodeWeight([]byte{1})
	assert.True(t, single.SensorOK())
}

func TestResult(t *testing.T) {
	s := rss.Success(rss.ConnectionStatePackage{State: rss.Connected})
	assert.True(t, s.IsSuccess())
	assert.Equal(t, "success(connected)", s.String())

	l := rss.Loading[rss.WeightPackage]("connecting")
	assert.True(t, l.IsLoading())
	assert.Equal(t, "loading(connecting)", l.String())

	e := rss.Error[rss.WeightPackage]("boom")
	assert.True(t, e.IsError())
	assert.Nil(t, e.Err)

	cause := errors.New("read failed")
	f := rss.Failure[rss.WeightPackage](cause)
	assert.True(t, f.IsError())
	assert.Equal(t, "read failed", f.Message)
	assert.ErrorIs(t, f.Err, cause)

	assert.Equal(t, "kind(9)", rss.ResultKind(9).String())
}

func TestConnectionStateNames(t *testing.T) {
	assert.Equal(t, "uninitialized", rss.Uninitialized.String())
	assert.Equal(t, "initializing", rss.Initializing.String())
	assert.Equal(t, "connected", rss.Connected.String())
	assert.Equal(t, "disconnected", rss.Disconnected.String())
	assert.Equal(t, "state(7)", rss.ConnectionState(7).String())
}

func TestDefaultIdentity(t *testing.T) {
	id := rss.DefaultIdentity()
	assert.Equal(t, "Robotic Sorting System", id.Name)
	assert.Equal(t, 517, id.MTU)
	assert.NotEqual(t, id.Weight, id.Configuration)
}
