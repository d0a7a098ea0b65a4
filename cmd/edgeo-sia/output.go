package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/edgeo-scada/sia/sia"
)

// OutputFormat represents output format types
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatCSV   OutputFormat = "csv"
	FormatRaw   OutputFormat = "raw"
)

// Formatter handles output formatting
type Formatter struct {
	mu     sync.Mutex
	format OutputFormat
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(format string) *Formatter {
	return &Formatter{
		format: OutputFormat(format),
		writer: os.Stdout,
	}
}

// SetWriter sets the output writer
func (f *Formatter) SetWriter(w io.Writer) {
	f.writer = w
}

// Printf formats and prints output
func (f *Formatter) Printf(format string, args ...interface{}) {
	fmt.Fprintf(f.writer, format, args...)
}

// Println prints a line
func (f *Formatter) Println(args ...interface{}) {
	fmt.Fprintln(f.writer, args...)
}

// PrintKeyValue prints key-value pairs
func (f *Formatter) PrintKeyValue(pairs map[string]interface{}, order []string) {
	maxKeyLen := 0
	for _, key := range order {
		if len(key) > maxKeyLen {
			maxKeyLen = len(key)
		}
	}

	for _, key := range order {
		if val, ok := pairs[key]; ok {
			fmt.Fprintf(f.writer, "%-*s: %v\n", maxKeyLen, key, val)
		}
	}
}

// PrintResponse prints a receiver reply. key is needed to render encrypted
// replies in raw format.
func (f *Formatter) PrintResponse(resp sia.Response, key []byte, rtt time.Duration) error {
	ts := ""
	if !resp.Timestamp.IsZero() {
		ts = resp.Timestamp.Format(time.RFC3339)
	}

	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.writer).Encode(map[string]interface{}{
			"kind":      resp.Kind.String(),
			"encrypted": resp.Encrypted,
			"sequence":  resp.Sequence,
			"account":   resp.Account,
			"timestamp": ts,
			"rtt_ms":    float64(rtt.Microseconds()) / 1000,
		})
	case FormatRaw:
		body, err := resp.Body(key)
		if err != nil {
			return err
		}
		f.Println(string(body))
		return nil
	default:
		f.PrintKeyValue(map[string]interface{}{
			"Response":  resp.Kind,
			"Encrypted": resp.Encrypted,
			"Sequence":  resp.Sequence,
			"Account":   resp.Account,
			"Timestamp": ts,
			"RTT":       rtt.Round(time.Microsecond),
		}, []string{"Response", "Encrypted", "Sequence", "Account", "Timestamp", "RTT"})
		return nil
	}
}

var eventColumns = []string{"received", "account", "id", "seq", "code", "zone", "message", "quality"}

func eventRow(ev sia.Event) []string {
	return []string{
		ev.ReceivedAt.Format("15:04:05.000"),
		ev.Account,
		ev.ID,
		ev.Sequence,
		ev.Code,
		ev.Zone,
		ev.Message,
		ev.Quality.String(),
	}
}

// PrintEvent prints one received event; safe for concurrent use
func (f *Formatter) PrintEvent(ev sia.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.writer).Encode(ev)
	case FormatCSV:
		w := csv.NewWriter(f.writer)
		if err := w.Write(eventRow(ev)); err != nil {
			return err
		}
		w.Flush()
		return w.Error()
	case FormatRaw:
		f.Println(ev.Content)
		return nil
	default:
		f.Println(strings.Join(eventRow(ev), "  "))
		return nil
	}
}

// PrintEventHeader prints column names for tabular event output
func (f *Formatter) PrintEventHeader() {
	switch f.format {
	case FormatCSV:
		f.Println(strings.Join(eventColumns, ","))
	case FormatTable:
		f.Println(strings.ToUpper(strings.Join(eventColumns, "  ")))
	}
}
