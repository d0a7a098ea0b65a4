// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sia

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleBody = `"SIA-DCS"0002R1L0#1234[#1234|Nri1/BA501]_12:00:00,01-02-2024`

// frameOf runs raw through a framer and returns the single frame it holds
func frameOf(t *testing.T, raw []byte) Frame {
	t.Helper()
	f := NewFramer(DefaultMaxFrameLength)
	f.Write(raw)
	frame, ok, err := f.Next()
	require.NoError(t, err)
	require.True(t, ok, "no complete frame in %q", raw)
	return frame
}

func TestEncodeFrame_Layout(t *testing.T) {
	body := []byte(sampleBody)
	raw := EncodeFrame(body)

	require.Equal(t, byte('\n'), raw[0])
	require.Equal(t, byte('\r'), raw[len(raw)-1])
	require.Equal(t, FormatCRC(CRC(body)), string(raw[1:5]))
	require.Equal(t, "003C", string(raw[5:9]))
	require.Equal(t, sampleBody, string(raw[9:len(raw)-1]))
}

func TestFramer_SingleFrame(t *testing.T) {
	frame := frameOf(t, EncodeFrame([]byte(sampleBody)))
	require.Equal(t, sampleBody, string(frame.Body))
	require.Equal(t, len(sampleBody), frame.Length)
	require.True(t, frame.ValidCRC())
}

func TestFramer_Fragmented(t *testing.T) {
	raw := EncodeFrame([]byte(sampleBody))
	f := NewFramer(DefaultMaxFrameLength)

	// everything except the last body byte and the CR
	for i := 0; i < len(raw)-2; i++ {
		f.Write(raw[i : i+1])
		_, ok, err := f.Next()
		require.NoError(t, err)
		require.False(t, ok, "frame emitted early at byte %d", i)
	}

	f.Write(raw[len(raw)-2:])
	frame, ok, err := f.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sampleBody, string(frame.Body))
	require.Zero(t, f.Buffered())
	require.Zero(t, f.Discarded())
}

func TestFramer_Concatenated(t *testing.T) {
	second := strings.Replace(sampleBody, "0002", "0003", 1)
	f := NewFramer(DefaultMaxFrameLength)
	f.Write(append(EncodeFrame([]byte(sampleBody)), EncodeFrame([]byte(second))...))

	frame, ok, err := f.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sampleBody, string(frame.Body))

	frame, ok, err = f.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, second, string(frame.Body))

	_, ok, err = f.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFramer_GarbagePrefix(t *testing.T) {
	f := NewFramer(DefaultMaxFrameLength)
	f.Write([]byte("xyz??"))
	f.Write(EncodeFrame([]byte(sampleBody)))

	frame, ok, err := f.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sampleBody, string(frame.Body))
	require.Equal(t, 5, f.Discarded())
}

func TestFramer_GarbageLooksLikeHeader(t *testing.T) {
	f := NewFramer(DefaultMaxFrameLength)
	f.Write([]byte(`0000FFFF"junk`))
	f.Write(EncodeFrame([]byte(sampleBody)))

	frame, ok, err := f.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sampleBody, string(frame.Body))
	require.Equal(t, 13, f.Discarded())

	_, ok, err = f.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFramer_WithoutDelimiters(t *testing.T) {
	raw := EncodeFrame([]byte(sampleBody))
	frame := frameOf(t, raw[1:len(raw)-1])
	require.Equal(t, sampleBody, string(frame.Body))
}

func TestFramer_Oversized(t *testing.T) {
	f := NewFramer(16)
	f.Write(EncodeFrame([]byte(sampleBody)))

	_, ok, err := f.Next()
	require.False(t, ok)
	require.Error(t, err)
	require.True(t, IsFramingError(err))

	var fe *FramingError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, len(sampleBody), fe.Length)
}
