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

// Package sia implements an SIA DC-09 alarm receiver: framing, CRC, AES-CBC
// decryption, timestamp checks, ACK/NAK/DUH responses and a TCP/UDP server.
package sia

import (
	"fmt"
	"strings"
	"time"
)

// DefaultPort is a common listening port for DC-09 receivers
const DefaultPort = 7777

// Protocol identifiers carried between the first pair of quotes
const (
	IDSIA       = "SIA-DCS"
	IDContactID = "ADM-CID"
	IDNull      = "NULL"
	IDOpenHold  = "OH"

	IDAck = "ACK"
	IDNak = "NAK"
	IDDuh = "DUH"
)

// timestampLayout is the DC-09 "_HH:MM:SS,MM-DD-YYYY" layout, always UTC
const timestampLayout = "15:04:05,01-02-2006"

// FormatTimestamp renders t the way DC-09 expects it after the '_' marker
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// timestampParseLayout replaces the comma of timestampLayout: time.Parse reads
// ",01" after the seconds as a fractional second
const timestampParseLayout = "15:04:05 01-02-2006"

// ParseTimestamp parses the text following the '_' marker
func ParseTimestamp(s string) (time.Time, error) {
	clock, date, ok := strings.Cut(s, ",")
	if !ok {
		return time.Time{}, fmt.Errorf("parse timestamp %q: missing ',' between time and date", s)
	}
	t, err := time.ParseInLocation(timestampParseLayout, clock+" "+date, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// MessageKind tags the structural shape of a parsed frame
type MessageKind uint8

const (
	KindUnparseable MessageKind = iota
	KindUnencrypted
	KindEncrypted
	KindKeepAlive
)

func (k MessageKind) String() string {
	switch k {
	case KindUnparseable:
		return "unparseable"
	case KindUnencrypted:
		return "unencrypted"
	case KindEncrypted:
		return "encrypted"
	case KindKeepAlive:
		return "keep-alive"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// Message is the header-level decode of one frame. Content is either plaintext
// or the hex ciphertext, depending on Encrypted.
type Message struct {
	Kind      MessageKind
	ID        string
	Encrypted bool
	Sequence  string
	Receiver  string
	Prefix    string
	Account   string
	Content   string
	Raw       string
}

// ParseQuality describes how confidently content fields were extracted
type ParseQuality uint8

const (
	QualityUnparseable ParseQuality = iota
	QualityStrict
	QualityHeuristic
)

func (q ParseQuality) String() string {
	switch q {
	case QualityStrict:
		return "strict"
	case QualityHeuristic:
		return "heuristic"
	default:
		return "unparseable"
	}
}

// MarshalText renders the quality by name in JSON and logs
func (q ParseQuality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// Fields are the bracket-delimited values found inside event content
type Fields struct {
	Code      string
	Zone      string
	Message   string
	Qualifier string
	Partition string
	Time      string
	ID        string
}

// ContentResult is one of StrictlyParsed, HeuristicallyParsed or Unparseable
type ContentResult interface {
	Quality() ParseQuality
	contentResult()
}

// StrictlyParsed content matched the full DC-09 grammar
type StrictlyParsed struct {
	Fields Fields
}

func (StrictlyParsed) Quality() ParseQuality { return QualityStrict }
func (StrictlyParsed) contentResult() {}

// HeuristicallyParsed content only yielded fields to a best-effort scan
type HeuristicallyParsed struct {
	Fields     Fields
	Confidence float64
}

func (HeuristicallyParsed) Quality() ParseQuality { return QualityHeuristic }
func (HeuristicallyParsed) contentResult() {}

// Unparseable content produced no usable event code
type Unparseable struct {
	Raw string
}

func (Unparseable) Quality() ParseQuality { return QualityUnparseable }
func (Unparseable) contentResult() {}

// Content is the interpretation of a plaintext content block
type Content struct {
	Result       ContentResult
	ExtendedData []string
	Timestamp    time.Time
	HasTimestamp bool
	// TimestampErr is set when a '_' trailer is present but cannot be parsed
	TimestampErr error
	Raw          string
}

// Event is a validated alarm message handed to the event handler. Handlers
// receive their own copy and must treat it as read-only.
type Event struct {
	Account      string
	ID           string
	Encrypted    bool
	Sequence     string
	Receiver     string
	Prefix       string
	Timestamp    time.Time
	ReceivedAt   time.Time
	Code         string
	Zone         string
	Message      string
	Qualifier    string
	Partition    string
	ExtendedData []string
	Quality      ParseQuality
	Confidence   float64
	Content      string
	RemoteAddr   string
}

func (e Event) String() string {
	return fmt.Sprintf("%s account=%s seq=%s code=%s zone=%s", e.ID, e.Account, e.Sequence, e.Code, e.Zone)
}

func (e Event) clone() Event {
	if e.ExtendedData != nil {
		e.ExtendedData = append([]string(nil), e.ExtendedData...)
	}
	return e
}
