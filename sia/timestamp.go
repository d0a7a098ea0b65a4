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
	"time"
)

// ValidTimestamp reports whether ts lies in [now-band.Before, now+band.After]
func ValidTimestamp(ts, now time.Time, band Timeband) bool {
	return !ts.Before(now.Add(-band.Before)) && !ts.After(now.Add(band.After))
}

func checkTimestamp(ts, now time.Time, band Timeband) error {
	if ValidTimestamp(ts, now, band) {
		return nil
	}
	return fmt.Errorf("%w: event=%s server=%s skew=%s", ErrTimestamp,
		ts.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339), ts.Sub(now).Round(time.Second))
}
