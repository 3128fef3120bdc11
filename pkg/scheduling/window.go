/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Window is one wall-clock activity window: resources should be running
// between Start and End local time on the listed weekdays.
type Window struct {
	// Start and End are HH:MM:SS wall-clock strings.
	Start string
	End   string
	// Timezone is an IANA zone identifier, e.g. "Asia/Kolkata".
	Timezone string
	// Days holds three-letter weekday abbreviations, e.g. "Mon".
	Days []string
}

// InWindow reports whether now falls inside the window. The right endpoint is
// exclusive: an instant exactly equal to the window end is out of window.
// Overnight windows (end before start) roll the end over to the next calendar
// day. DST is honored through the zone database: combining the local date with
// the HMS strings lands on the post-transition instant for skipped hours.
func (w Window) InWindow(now time.Time) (bool, error) {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return false, fmt.Errorf("loading timezone %q, %w", w.Timezone, err)
	}
	local := now.In(loc)
	if !w.activeOn(local.Weekday()) {
		return false, nil
	}
	startHMS, err := parseHMS(w.Start)
	if err != nil {
		return false, fmt.Errorf("parsing window start, %w", err)
	}
	endHMS, err := parseHMS(w.End)
	if err != nil {
		return false, fmt.Errorf("parsing window end, %w", err)
	}
	year, month, day := local.Date()
	startToday := time.Date(year, month, day, startHMS.hour, startHMS.minute, startHMS.second, 0, loc)
	endToday := time.Date(year, month, day, endHMS.hour, endHMS.minute, endHMS.second, 0, loc)
	if endToday.Before(startToday) {
		endToday = endToday.AddDate(0, 0, 1)
	}
	return !local.Before(startToday) && local.Before(endToday), nil
}

func (w Window) activeOn(day time.Weekday) bool {
	abbrev := day.String()[:3]
	return lo.ContainsBy(w.Days, func(d string) bool {
		return strings.EqualFold(strings.TrimSpace(d), abbrev)
	})
}

type hms struct {
	hour, minute, second int
}

func parseHMS(s string) (hms, error) {
	var out hms
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &out.hour, &out.minute, &out.second); err != nil {
		return hms{}, fmt.Errorf("expected HH:MM:SS, got %q, %w", s, err)
	}
	if out.hour < 0 || out.hour > 23 || out.minute < 0 || out.minute > 59 || out.second < 0 || out.second > 59 {
		return hms{}, fmt.Errorf("out of range time %q", s)
	}
	return out, nil
}
