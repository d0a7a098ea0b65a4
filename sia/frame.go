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
	"fmt"
	"strconv"
)

const (
	frameStart = '\n'
	frameEnd   = '\r'

	// headerLen covers the CRC (4 hex) and length (4 hex) fields
	headerLen = 8

	// DefaultMaxFrameLength bounds the body of a single frame
	DefaultMaxFrameLength = 1024
)

// Frame is one delimited message as read off the wire
type Frame struct {
	CRC    uint16
	Length int
	Body   []byte
}

// ComputedCRC returns the checksum of the body
func (f Frame) ComputedCRC() uint16 {
	return CRC(f.Body)
}

// ValidCRC reports whether the declared checksum matches the body
func (f Frame) ValidCRC() bool {
	return f.CRC == f.ComputedCRC()
}

// EncodeFrame wraps body with the LF, CRC, length and CR fields
func EncodeFrame(body []byte) []byte {
	buf := make([]byte, 0, len(body)+headerLen+2)
	buf = append(buf, frameStart)
	buf = append(buf, FormatCRC(CRC(body))...)
	buf = append(buf, fmt.Sprintf("%04X", len(body))...)
	buf = append(buf, body...)
	buf = append(buf, frameEnd)
	return buf
}

// Framer extracts complete frames from a byte stream. It buffers partial frames
// across reads, splits concatenated frames and skips bytes that cannot start a
// frame. A Framer is not safe for concurrent use.
type Framer struct {
	buf       []byte
	maxLength int
	discarded int
}

// NewFramer creates a framer rejecting bodies longer than maxLength
func NewFramer(maxLength int) *Framer {
	if maxLength <= 0 {
		maxLength = DefaultMaxFrameLength
	}
	return &Framer{maxLength: maxLength}
}

// Write appends data received from the transport
func (f *Framer) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes waiting for completion
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Discarded returns the number of garbage bytes skipped so far
func (f *Framer) Discarded() int {
	return f.discarded
}

// Next returns the next complete frame. ok is false when more data is needed.
// A candidate header declaring more than the maximum length is skipped when
// another header follows it; otherwise it is a *FramingError and the stream
// cannot be resynchronised.
func (f *Framer) Next() (frame Frame, ok bool, err error) {
	for {
		start := f.findHeader(0)
		if start < 0 {
			// keep a possible header prefix at the tail
			keep := headerLen
			if len(f.buf) < keep {
				keep = len(f.buf)
			}
			f.drop(len(f.buf) - keep)
			return Frame{}, false, nil
		}
		f.drop(start)

		crc, _ := strconv.ParseUint(string(f.buf[0:4]), 16, 16)
		length, _ := strconv.ParseUint(string(f.buf[4:8]), 16, 16)
		if int(length) > f.maxLength {
			if f.findHeader(1) < 0 {
				return Frame{}, false, &FramingError{Reason: ErrFrameTooLong.Error(), Length: int(length)}
			}
			f.drop(1)
			continue
		}

		end := headerLen + int(length)
		if len(f.buf) < end {
			return Frame{}, false, nil
		}

		body := make([]byte, length)
		copy(body, f.buf[headerLen:end])
		if len(f.buf) > end && f.buf[end] == frameEnd {
			end++
		}
		f.buf = f.buf[end:]
		if len(f.buf) == 0 {
			f.buf = nil
		}

		return Frame{CRC: uint16(crc), Length: int(length), Body: body}, true, nil
	}
}

// findHeader returns the offset of the first "CCCCLLLL\"" sequence at or
// after from, -1 if none
func (f *Framer) findHeader(from int) int {
	for i := from; i+headerLen < len(f.buf); i++ {
		if f.buf[i+headerLen] != '"' {
			continue
		}
		if allHex(f.buf[i : i+headerLen]) {
			return i
		}
	}
	return -1
}

func (f *Framer) drop(n int) {
	if n <= 0 {
		return
	}
	for _, c := range f.buf[:n] {
		if c != frameStart && c != frameEnd {
			f.discarded++
		}
	}
	f.buf = f.buf[n:]
}

func allHex(b []byte) bool {
	for _, c := range b {
		if !isHexDigit(c) {
			return false
		}
	}
	return true
}
