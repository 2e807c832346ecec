package vpp

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avstack/types"
)

func TestCompositionLayout(t *testing.T) {
	c := Composition{
		InputStreams: []InputStream{
			{DstX: 0, DstY: 0, DstW: 640, DstH: 480},
			{DstX: 640, DstY: 0, DstW: 640, DstH: 480},
			{DstX: 1280, DstY: 0, DstW: 320, DstH: 480},
		},
	}
	require.Equal(t, "0_0|640_0|1280_0", c.Layout())
}

func TestCompositionCanvasSize(t *testing.T) {
	t.Run("horizontal", func(t *testing.T) {
		c := Composition{
			InputStreams: []InputStream{
				{DstX: 0, DstY: 0, DstW: 640, DstH: 480},
				{DstX: 640, DstY: 0, DstW: 320, DstH: 480},
			},
		}
		w, h := c.CanvasSize()
		require.Equal(t, 960, w)
		require.Equal(t, 480, h)
	})

	t.Run("vertical", func(t *testing.T) {
		c := Composition{
			InputStreams: []InputStream{
				{DstX: 0, DstY: 0, DstW: 640, DstH: 480},
				{DstX: 0, DstY: 480, DstW: 640, DstH: 240},
			},
		}
		w, h := c.CanvasSize()
		require.Equal(t, 640, w)
		require.Equal(t, 720, h)
	})
}

func TestCompositionValidate(t *testing.T) {
	tests := []struct {
		name        string
		composition Composition
		expectErr   bool
	}{
		{
			name:      "empty",
			expectErr: true,
		},
		{
			name: "valid",
			composition: Composition{
				InputStreams: []InputStream{
					{DstX: 0, DstY: 0, DstW: 640, DstH: 480},
				},
			},
		},
		{
			name: "negative offset",
			composition: Composition{
				InputStreams: []InputStream{
					{DstX: -1, DstY: 0, DstW: 640, DstH: 480},
				},
			},
			expectErr: true,
		},
		{
			name: "zero size",
			composition: Composition{
				InputStreams: []InputStream{
					{DstX: 0, DstY: 0, DstW: 0, DstH: 480},
				},
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.composition.Validate()
			if tt.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestEngineName(t *testing.T) {
	tests := []struct {
		hwType   types.HardwareDeviceType
		expected string
	}{
		{types.HardwareDeviceTypeNone, "xstack"},
		{types.HardwareDeviceTypeQSV, "xstack_qsv"},
		{types.HardwareDeviceTypeVAAPI, "xstack_vaapi"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			name, err := engineName(tt.hwType)
			require.NoError(t, err)
			require.Equal(t, tt.expected, name)
		})
	}

	_, err := engineName(types.HardwareDeviceTypeCUDA)
	require.Error(t, err)
}
