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

package v1

import (
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/multierr"
)

// Weekdays maps the schedule day tokens onto time.Weekday.
var Weekdays = map[string]time.Weekday{
	"Mon": time.Monday,
	"Tue": time.Tuesday,
	"Wed": time.Wednesday,
	"Thu": time.Thursday,
	"Fri": time.Friday,
	"Sat": time.Saturday,
	"Sun": time.Sunday,
}

// Schedule is a user-defined active window plus the resources it governs.
// Schedules are owned by the configuration surface and are read-only here.
type Schedule struct {
	ID         string        `json:"id" dynamodbav:"id"`
	Name       string        `json:"name" dynamodbav:"name"`
	TenantID   string        `json:"tenantId" dynamodbav:"tenantId"`
	StartTime  string        `json:"startTime" dynamodbav:"startTime"` // HH:MM:SS
	EndTime    string        `json:"endTime" dynamodbav:"endTime"`     // HH:MM:SS
	Timezone   string        `json:"timezone" dynamodbav:"timezone"`
	ActiveDays []string      `json:"activeDays" dynamodbav:"activeDays"`
	Active     bool          `json:"active" dynamodbav:"active"`
	Resources  []ResourceRef `json:"resources,omitempty" dynamodbav:"resources,omitempty"`
}

// Validate checks the invariants the engine depends on before processing.
// A schedule failing validation is skipped and audited, never retried.
func (s *Schedule) Validate() (err error) {
	if s.ID == "" {
		err = multierr.Append(err, fmt.Errorf("schedule id is required"))
	}
	if _, perr := ParseTimeOfDay(s.StartTime); perr != nil {
		err = multierr.Append(err, fmt.Errorf("parsing start time, %w", perr))
	}
	if _, perr := ParseTimeOfDay(s.EndTime); perr != nil {
		err = multierr.Append(err, fmt.Errorf("parsing end time, %w", perr))
	}
	if s.StartTime == s.EndTime {
		err = multierr.Append(err, fmt.Errorf("start time %q must differ from end time", s.StartTime))
	}
	if _, terr := time.LoadLocation(s.Timezone); terr != nil {
		err = multierr.Append(err, fmt.Errorf("%q is not a valid IANA timezone, %w", s.Timezone, terr))
	}
	if len(s.ActiveDays) == 0 {
		err = multierr.Append(err, fmt.Errorf("active days must not be empty"))
	}
	for _, day := range s.ActiveDays {
		if _, ok := Weekdays[day]; !ok {
			err = multierr.Append(err, fmt.Errorf("%q is not a valid day token", day))
		}
	}
	return err
}

// ActiveOn reports whether the given local weekday is in the schedule's day set.
func (s *Schedule) ActiveOn(day time.Weekday) bool {
	return lo.ContainsBy(s.ActiveDays, func(token string) bool {
		return Weekdays[token] == day
	})
}

// AccountIDs returns the distinct account ids referenced by the schedule's
// resource ARNs, in first-seen order.
func (s *Schedule) AccountIDs() []string {
	return lo.Uniq(lo.FilterMap(s.Resources, func(r ResourceRef, _ int) (string, bool) {
		id := r.AccountID()
		return id, id != ""
	}))
}

// ResourcesByAccount groups the schedule's resources by owning account id.
// Resources with an unparsable ARN group under the empty key and are failed
// by the engine rather than dropped silently.
func (s *Schedule) ResourcesByAccount() map[string][]ResourceRef {
	return lo.GroupBy(s.Resources, func(r ResourceRef) string {
		return r.AccountID()
	})
}

// TimeOfDay is a wall-clock instant within a day.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay parses the schedule's HH:MM:SS window boundaries.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	if _, err := fmt.Sscanf(s, "%2d:%2d:%2d", &t.Hour, &t.Minute, &t.Second); err != nil {
		return TimeOfDay{}, fmt.Errorf("%q is not a valid HH:MM:SS time, %w", s, err)
	}
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 || t.Second < 0 || t.Second > 59 {
		return TimeOfDay{}, fmt.Errorf("%q is out of range for an HH:MM:SS time", s)
	}
	return t, nil
}
