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
	"log/slog"
	"time"
)

// ConnState is the step a frame reached in the connection pipeline
type ConnState int32

const (
	StateAwaitingFrame ConnState = iota
	StateFramed
	StateParsed
	StateAuthenticated
	StateDecrypted
	StateValidated
	StateDispatched
	StateResponded
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateAwaitingFrame:
		return "awaiting-frame"
	case StateFramed:
		return "framed"
	case StateParsed:
		return "parsed"
	case StateAuthenticated:
		return "authenticated"
	case StateDecrypted:
		return "decrypted"
	case StateValidated:
		return "validated"
	case StateDispatched:
		return "dispatched"
	case StateResponded:
		return "responded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// outcome is the verdict on one frame: the reply to send and, when every check
// passed, the event to hand to the dispatcher
type outcome struct {
	reached  ConnState
	message  Message
	response Response
	key      []byte
	event    *Event
	err      error
}

func (o outcome) failure() FailureKind {
	return FailureOf(o.err)
}

// processor validates frames against a registry. It holds no per-connection state.
type processor struct {
	registry *Registry
	now      func() time.Time
}

// process walks one frame through parse, authenticate, decrypt and validate
func (p *processor) process(f Frame, remote string) outcome {
	now := p.now()
	msg := ParseFrame(f)
	o := outcome{reached: StateFramed, message: msg}

	reject := func(kind FailureKind, err error) outcome {
		o.err = newValidationError(kind, msg.Account, err)
		o.response = NewResponse(ResponseNAK, msg, now)
		o.key = nil
		return o
	}

	// Integrity before anything else is interpreted
	if !f.ValidCRC() {
		return reject(FailureCRC, fmt.Errorf("%w: declared %s, computed %s", ErrCRC,
			FormatCRC(f.CRC), FormatCRC(f.ComputedCRC())))
	}
	if msg.Kind == KindUnparseable {
		o.message = Message{}
		msg = Message{}
		return reject(FailureFormat, ErrFormat)
	}
	o.reached = StateParsed

	account, err := p.registry.Lookup(msg.Account)
	if err != nil {
		return reject(FailureAccount, fmt.Errorf("%w: %s", ErrUnknownAccount, msg.Account))
	}
	o.reached = StateAuthenticated

	plaintext := msg.Content
	switch {
	case msg.Encrypted && !account.Encrypted():
		return reject(FailureDecrypt, fmt.Errorf("%w: no key configured", ErrDecrypt))
	case msg.Encrypted:
		o.key = []byte(account.Key)
		pt, err := DecryptHex(msg.Content, o.key)
		if err != nil {
			return reject(FailureDecrypt, err)
		}
		plaintext = pt
		o.reached = StateDecrypted
	case account.Encrypted() && msg.Kind != KindKeepAlive:
		return reject(FailureDecrypt, ErrEncryptionNeeded)
	}

	if msg.Kind == KindKeepAlive {
		o.reached = StateValidated
		o.response = NewResponse(ResponseDUH, msg, now)
		return o
	}

	content := ParseContent(msg.ID, plaintext)
	switch {
	case content.TimestampErr != nil:
		return reject(FailureTimestamp, fmt.Errorf("%w: %v", ErrTimestamp, content.TimestampErr))
	case content.HasTimestamp:
		if err := checkTimestamp(content.Timestamp, now, account.Window()); err != nil {
			return reject(FailureTimestamp, err)
		}
	case msg.Encrypted:
		return reject(FailureTimestamp, fmt.Errorf("%w: encrypted message carries no timestamp", ErrTimestamp))
	}
	o.reached = StateValidated

	if _, bad := content.Result.(Unparseable); bad {
		// recognised frame, no usable code
		o.response = NewResponse(ResponseDUH, msg, now)
		return o
	}

	ev := newEvent(msg, content, now, remote)
	o.event = &ev
	o.response = NewResponse(ResponseACK, msg, now)
	return o
}

func newEvent(msg Message, c Content, receivedAt time.Time, remote string) Event {
	ev := Event{
		Account:      msg.Account,
		ID:           msg.ID,
		Encrypted:    msg.Encrypted,
		Sequence:     msg.Sequence,
		Receiver:     msg.Receiver,
		Prefix:       msg.Prefix,
		Timestamp:    c.Timestamp,
		ReceivedAt:   receivedAt,
		ExtendedData: c.ExtendedData,
		Quality:      c.Result.Quality(),
		Content:      c.Raw,
		RemoteAddr:   remote,
	}

	var f Fields
	switch r := c.Result.(type) {
	case StrictlyParsed:
		f = r.Fields
		ev.Confidence = 1
	case HeuristicallyParsed:
		f = r.Fields
		ev.Confidence = r.Confidence
	}
	ev.Code = f.Code
	ev.Zone = f.Zone
	ev.Message = f.Message
	ev.Qualifier = f.Qualifier
	ev.Partition = f.Partition
	return ev
}

// encode renders the reply, falling back to a plain NAK if encryption fails
func (o outcome) encode(logger *slog.Logger) []byte {
	out, err := o.response.Encode(o.key)
	if err == nil {
		return out
	}
	logger.Error("failed to encode response",
		slog.String("account", o.message.Account),
		slog.String("error", err.Error()),
	)
	nak := o.response
	nak.Kind = ResponseNAK
	nak.Encrypted = false
	out, _ = nak.Encode(nil)
	return out
}

// record updates the per-frame metrics for o
func (o outcome) record(m *Metrics) {
	m.FramesReceived.Inc()
	m.recordResponse(o.response.Kind)
	if kind := o.failure(); kind != FailureNone {
		m.recordFailure(kind)
		if kind == FailureFormat {
			m.Unparseable.Inc()
		}
		return
	}
	switch {
	case o.message.Kind == KindKeepAlive:
		m.KeepAlives.Inc()
	case o.event == nil:
		m.CodeNotFound.Inc()
	case o.event.Quality == QualityHeuristic:
		m.HeuristicParses.Inc()
	}
}

// logAttrs describes o for the connection log
func (o outcome) logAttrs(connID string) []any {
	attrs := []any{
		slog.String("conn", connID),
		slog.String("account", o.message.Account),
		slog.String("seq", o.message.Sequence),
		slog.String("reached", o.reached.String()),
		slog.String("response", o.response.Kind.String()),
	}
	if o.err != nil {
		attrs = append(attrs,
			slog.String("failure", o.failure().String()),
			slog.String("error", o.err.Error()),
		)
	}
	return attrs
}
