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
	"regexp"
	"strings"
)

var (
	headerPattern = regexp.MustCompile(`(?s)^"(\*)?([A-Z][A-Z-]*)"(\d{4})(?:R([0-9A-Fa-f]{1,6}))?L([0-9A-Fa-f]{1,6})#([0-9A-Fa-f]{3,16})\[(.*)$`)

	siaPattern = regexp.MustCompile(`^(?:#[0-9A-Fa-f]{3,16})?\|?N?(?:ti(\d{2}:\d{2})/?)?(?:id(\d+)/?)?(?:ri(\d+)/?)?([A-Z]{2})([^\[\]|]*)$`)
	cidPattern = regexp.MustCompile(`^(?:#[0-9A-Fa-f]{3,16})?\|?([136])(\d{3}) (\d{2}) (\d{3})$`)

	looseSIACode = regexp.MustCompile(`([A-Z]{2})(\d{0,4})`)
	looseCIDCode = regexp.MustCompile(`\b(\d{3})\b`)
	looseZone    = regexp.MustCompile(`[Rr]i(\d+)`)
	looseGroup   = regexp.MustCompile(`\[([^\[\]]*)\]`)
	looseAccount = regexp.MustCompile(`^#[0-9A-Fa-f]{3,16}\|?`)
)

var eventIDs = map[string]MessageKind{
	IDSIA:       KindUnencrypted,
	IDContactID: KindUnencrypted,
	IDNull:      KindKeepAlive,
	IDOpenHold:  KindKeepAlive,
}

// ParseFrame decodes the header of a frame. It never fails: a body that does
// not follow the DC-09 grammar yields a Message of KindUnparseable.
func ParseFrame(f Frame) Message {
	raw := strings.TrimRight(string(f.Body), "\r\n")
	m := headerPattern.FindStringSubmatch(raw)
	if m == nil {
		return Message{Kind: KindUnparseable, Raw: raw}
	}

	kind, known := eventIDs[m[2]]
	if !known {
		return Message{Kind: KindUnparseable, Raw: raw}
	}

	msg := Message{
		Kind:      kind,
		ID:        m[2],
		Encrypted: m[1] == "*",
		Sequence:  m[3],
		Receiver:  strings.ToUpper(m[4]),
		Prefix:    strings.ToUpper(m[5]),
		Account:   strings.ToUpper(m[6]),
		Content:   m[7],
		Raw:       raw,
	}
	if msg.Encrypted && kind == KindUnencrypted {
		msg.Kind = KindEncrypted
	}
	return msg
}

// ParseContent interprets a plaintext content block: the data up to the first
// ']', any "[x-data]" groups and the optional "_timestamp" trailer. The DC-09
// grammar for id is tried first; when it does not match, the first bracketed
// groups are scanned for a plausible code and zone.
func ParseContent(id, content string) Content {
	c := Content{Raw: content}

	data, rest, closed := strings.Cut(content, "]")
	trailerOK := closed
	for closed && strings.HasPrefix(rest, "[") {
		var x string
		x, rest, closed = strings.Cut(rest[1:], "]")
		if !closed {
			trailerOK = false
			break
		}
		c.ExtendedData = append(c.ExtendedData, x)
	}
	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, "_") {
		ts, err := ParseTimestamp(rest[1:])
		if err != nil {
			c.TimestampErr = err
		} else {
			c.Timestamp = ts
			c.HasTimestamp = true
			rest = ""
		}
	}
	if rest != "" {
		trailerOK = false
	}

	if trailerOK {
		if fields, ok := parseStrict(id, data); ok {
			c.Result = StrictlyParsed{Fields: fields}
			return c
		}
	}
	c.Result = parseHeuristic(content, c.HasTimestamp)
	return c
}

func parseStrict(id, data string) (Fields, bool) {
	switch id {
	case IDSIA:
		m := siaPattern.FindStringSubmatch(data)
		if m == nil {
			return Fields{}, false
		}
		return Fields{
			Time:    m[1],
			ID:      m[2],
			Zone:    m[3],
			Code:    m[4],
			Message: strings.TrimSpace(m[5]),
		}, true

	case IDContactID:
		m := cidPattern.FindStringSubmatch(data)
		if m == nil {
			return Fields{}, false
		}
		return Fields{
			Qualifier: m[1],
			Code:      m[2],
			Partition: m[3],
			Zone:      m[4],
		}, true
	}
	return Fields{}, false
}

// parseHeuristic looks for an event code and zone in the first bracketed
// groups, the way lenient receivers deal with non-conforming panels.
func parseHeuristic(content string, hasTimestamp bool) ContentResult {
	scope := content
	if groups := looseGroup.FindAllStringSubmatch("["+content, 2); len(groups) > 0 {
		parts := make([]string, 0, len(groups))
		for _, g := range groups {
			parts = append(parts, g[1])
		}
		scope = strings.Join(parts, " ")
	}
	scope = looseAccount.ReplaceAllString(scope, "")

	var f Fields
	if m := looseZone.FindStringSubmatch(scope); m != nil {
		f.Zone = m[1]
	}
	if m := looseSIACode.FindStringSubmatch(scope); m != nil {
		f.Code = m[1]
		f.Message = m[2]
	} else if m := looseCIDCode.FindStringSubmatch(scope); m != nil {
		f.Code = m[1]
	}
	if f.Code == "" {
		return Unparseable{Raw: content}
	}

	confidence := 0.4
	if f.Zone != "" {
		confidence += 0.2
	}
	if hasTimestamp {
		confidence += 0.1
	}
	return HeuristicallyParsed{Fields: f, Confidence: confidence}
}
