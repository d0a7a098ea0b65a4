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
	"regexp"
	"strings"
	"time"
)

// ResponseKind is the acknowledgement sent back to a panel
type ResponseKind uint8

const (
	ResponseACK ResponseKind = iota
	ResponseNAK
	ResponseDUH
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseACK:
		return IDAck
	case ResponseNAK:
		return IDNak
	case ResponseDUH:
		return IDDuh
	default:
		return fmt.Sprintf("response(%d)", k)
	}
}

// Response is one reply frame
type Response struct {
	Kind      ResponseKind
	Encrypted bool
	Sequence  string
	Receiver  string
	Prefix    string
	Account   string
	Timestamp time.Time
}

// NewResponse builds a reply echoing the routing fields of msg
func NewResponse(kind ResponseKind, msg Message, now time.Time) Response {
	r := Response{
		Kind:      kind,
		Sequence:  msg.Sequence,
		Receiver:  msg.Receiver,
		Prefix:    msg.Prefix,
		Account:   msg.Account,
		Timestamp: now,
	}
	if kind != ResponseNAK {
		r.Encrypted = msg.Encrypted
	}
	return r
}

// Body renders the response without the frame envelope. key is required when
// the response is encrypted.
func (r Response) Body(key []byte) ([]byte, error) {
	var b strings.Builder

	seq, prefix, account := r.Sequence, r.Prefix, "#"+r.Account
	if seq == "" {
		seq = "0000"
	}
	if prefix == "" {
		prefix = "0"
	}
	if r.Account == "" {
		// unknown sender
		account = "A0"
	}

	b.WriteByte('"')
	if r.Encrypted {
		b.WriteByte('*')
	}
	b.WriteString(r.Kind.String())
	b.WriteByte('"')
	b.WriteString(seq)
	if r.Receiver != "" {
		b.WriteString("R" + r.Receiver)
	} else if r.Account == "" {
		b.WriteString("R0")
	}
	b.WriteString("L" + prefix)
	b.WriteString(account)
	b.WriteByte('[')

	switch {
	case r.Encrypted:
		hexData, err := EncryptHex("]_"+FormatTimestamp(r.Timestamp), key)
		if err != nil {
			return nil, fmt.Errorf("encrypt response: %w", err)
		}
		b.WriteString(hexData)
	case r.Kind == ResponseNAK:
		b.WriteString("]_" + FormatTimestamp(r.Timestamp))
	default:
		b.WriteByte(']')
	}
	return []byte(b.String()), nil
}

// Encode renders the complete response frame
func (r Response) Encode(key []byte) ([]byte, error) {
	body, err := r.Body(key)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(body), nil
}

// DecodeResponse parses a reply frame with the same grammar used for inbound
// messages. key decrypts "*ACK"/"*DUH" replies and may be nil otherwise.
func DecodeResponse(f Frame, key []byte) (Response, error) {
	if !f.ValidCRC() {
		return Response{}, fmt.Errorf("%w: %w", ErrInvalidResponse, ErrCRC)
	}

	raw := string(f.Body)
	m := responsePattern.FindStringSubmatch(raw)
	if m == nil {
		return Response{}, fmt.Errorf("%w: %q", ErrInvalidResponse, raw)
	}

	r := Response{
		Encrypted: m[1] == "*",
		Sequence:  m[3],
		Receiver:  m[4],
		Prefix:    m[5],
		Account:   m[6],
	}
	switch m[2] {
	case IDAck:
		r.Kind = ResponseACK
	case IDNak:
		r.Kind = ResponseNAK
	case IDDuh:
		r.Kind = ResponseDUH
	}

	content := m[7]
	if r.Encrypted {
		if len(key) == 0 {
			return r, fmt.Errorf("%w: encrypted response without key", ErrInvalidResponse)
		}
		pt, err := DecryptHex(content, key)
		if err != nil {
			return r, err
		}
		content = pt
	}
	if i := strings.Index(content, "]_"); i >= 0 {
		if ts, err := ParseTimestamp(strings.TrimSpace(content[i+2:])); err == nil {
			r.Timestamp = ts
		}
	}
	return r, nil
}

var responsePattern = regexp.MustCompile(`(?s)^"(\*)?(ACK|NAK|DUH)"(\d{4})(?:R([0-9A-Fa-f]{1,6}))?L([0-9A-Fa-f]{1,6})(?:#([0-9A-Fa-f]{3,16})|A0)\[(.*)$`)
