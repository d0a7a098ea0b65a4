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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidTimestamp_DefaultWindow(t *testing.T) {
	now := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{"now", 0, true},
		{"lower bound", -40 * time.Second, true},
		{"below lower bound", -41 * time.Second, false},
		{"upper bound", 20 * time.Second, true},
		{"above upper bound", 21 * time.Second, false},
		{"just inside past", -39 * time.Second, true},
		{"one nanosecond late", -40*time.Second - time.Nanosecond, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidTimestamp(now.Add(tt.offset), now, DefaultTimeband))
		})
	}
}

func TestValidTimestamp_AccountOverride(t *testing.T) {
	now := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	a, err := NewAccount("1234", "", &Timeband{Before: 10 * time.Minute, After: 0})
	require.NoError(t, err)

	require.True(t, ValidTimestamp(now.Add(-5*time.Minute), now, a.Window()))
	require.False(t, ValidTimestamp(now.Add(time.Second), now, a.Window()))
}

func TestCheckTimestamp_Error(t *testing.T) {
	now := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)

	require.NoError(t, checkTimestamp(now, now, DefaultTimeband))

	err := checkTimestamp(now.Add(-time.Hour), now, DefaultTimeband)
	require.ErrorIs(t, err, ErrTimestamp)
	require.True(t, IsTimestampError(err))
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("11:53:40,10-16-2026")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 16, 11, 53, 40, 0, time.UTC), ts)

	now := time.Now().UTC().Truncate(time.Second)
	ts, err = ParseTimestamp(FormatTimestamp(now))
	require.NoError(t, err)
	assert.True(t, now.Equal(ts))
}

func TestParseTimestamp_Invalid(t *testing.T) {
	for _, s := range []string{
		"",
		"11:53:40",
		"11:53:40 10-16-2026",
		"99:99:99,01-01-2000",
		"11:53:40,13-16-2026",
	} {
		_, err := ParseTimestamp(s)
		assert.Error(t, err, s)
	}
}
