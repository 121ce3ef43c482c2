// SPDX-License-Identifier: MPL-2.0

package process

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/c3s-magic/magicwps/internal/catalog"
)

const (
	sleepOutput = "sleep_output"
	sleepSteps  = 4
)

// sleep waits for the delay in four steps, reporting 20, 40, 60 and 80.
func (e *Executor) sleep(ctx context.Context, req Request, out *outputSet) error {
	req.Reporter.Update(0, MsgStarting)

	delay := 10.0
	if vs := req.Inputs[catalog.SleepDelayOption]; len(vs) > 0 {
		d, err := strconv.ParseFloat(vs[0], 64)
		if err != nil {
			return fmt.Errorf("delay: %w", err)
		}
		delay = d
	}
	step := time.Duration(delay * float64(time.Second) / sleepSteps)

	for i := 1; i <= sleepSteps; i++ {
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		req.Reporter.Update(i*20, MsgWaiting)
	}

	out.literal(sleepOutput, "done sleeping")
	req.Reporter.Update(100, MsgDone)
	return nil
}
