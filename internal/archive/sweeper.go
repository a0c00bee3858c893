package archive

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time. Returns 0 on parse error.
func nextCronDuration(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	next := sched.Next(time.Now())
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

// RunSweeper sweeps on the cron schedule until the context is cancelled.
// The schedule is validated up front; the loop itself runs in a goroutine.
func (a *Archiver) RunSweeper(ctx context.Context, schedule string) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("archive: parse schedule %q: %w", schedule, err)
	}
	go func() {
		for {
			d := nextCronDuration(schedule)
			if d <= 0 {
				d = time.Minute
			}
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				if n := a.Sweep(); n > 0 {
					log.Printf("archive: swept %d runs", n)
				}
			}
		}
	}()
	return nil
}
