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

// Package window decides whether a schedule's active window currently holds.
package window

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	v1 "github.com/cloudnap/cloudnap/pkg/apis/v1"
)

// Evaluator answers in-window queries. It is pure given a now instant; the
// only state is a cache of parsed IANA locations since LoadLocation reads
// the zoneinfo database on every call.
type Evaluator struct {
	locations *cache.Cache
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		locations: cache.New(cache.NoExpiration, cache.NoExpiration),
	}
}

// InWindow reports whether now falls inside the schedule's active window.
//
// Day-of-week membership is evaluated against the weekday of the window's
// start, not of now: an overnight window that belongs to Friday is still
// active at 01:00 Saturday. Overnight windows (end <= start) span into the
// following day. Around DST transitions time.Date normalizes nonexistent
// local times forward and containment errs toward active.
func (e *Evaluator) InWindow(schedule *v1.Schedule, now time.Time) (bool, error) {
	loc, err := e.location(schedule.Timezone)
	if err != nil {
		return false, err
	}
	start, err := v1.ParseTimeOfDay(schedule.StartTime)
	if err != nil {
		return false, err
	}
	end, err := v1.ParseTimeOfDay(schedule.EndTime)
	if err != nil {
		return false, err
	}
	local := now.In(loc)

	// Probe the window anchored on today and, for overnight spans, the one
	// anchored on yesterday whose tail may still cover now.
	for _, dayOffset := range []int{0, -1} {
		day := local.AddDate(0, 0, dayOffset)
		windowStart := time.Date(day.Year(), day.Month(), day.Day(), start.Hour, start.Minute, start.Second, 0, loc)
		windowEnd := time.Date(day.Year(), day.Month(), day.Day(), end.Hour, end.Minute, end.Second, 0, loc)
		overnight := !windowEnd.After(windowStart)
		if overnight {
			windowEnd = windowEnd.AddDate(0, 0, 1)
		} else if dayOffset != 0 {
			// A same-day window anchored on yesterday ended before midnight.
			continue
		}
		if !schedule.ActiveOn(windowStart.Weekday()) {
			continue
		}
		if !local.Before(windowStart) && local.Before(windowEnd) {
			return true, nil
		}
	}
	return false, nil
}

func (e *Evaluator) location(name string) (*time.Location, error) {
	if loc, ok := e.locations.Get(name); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q, %w", name, err)
	}
	e.locations.SetDefault(name, loc)
	return loc, nil
}
