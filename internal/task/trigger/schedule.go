package trigger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Seconds are optional so both 5 and 6 field expressions work.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// ParseSchedule accepts a cron expression ("0 3 * * *", "@daily",
// "@every 6h"), a Go duration ("90m") or an HH:MM interval ("02:30").
func ParseSchedule(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("schedule required")
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		sched, err := parser.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid cron schedule %q: %w", raw, err)
		}
		return sched, nil
	}
	if m := reHHMM.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return nil, fmt.Errorf("invalid minutes in %q", raw)
		}
		return every(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q (use cron like '0 3 * * *', HH:MM like '02:30' or a duration like '90m')", raw)
	}
	return every(d)
}

func every(d time.Duration) (cron.Schedule, error) {
	if d < time.Second {
		return nil, fmt.Errorf("interval must be at least 1s")
	}
	return cron.Every(d), nil
}

// Validate reports whether raw is an accepted schedule.
func Validate(raw string) error {
	_, err := ParseSchedule(raw)
	return err
}
