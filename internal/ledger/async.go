package ledger

import "context"

// Outcome is the single result delivered by the async operations.
type Outcome struct {
	Punch Punch
	Err   error
}

// ClockInAsync runs ClockIn on its own goroutine. The returned channel
// receives exactly one Outcome and is then closed.
func (l *Ledger) ClockInAsync(ctx context.Context) <-chan Outcome {
	return run(ctx, l.ClockIn)
}

// ClockOutAsync runs ClockOut on its own goroutine. The returned channel
// receives exactly one Outcome and is then closed.
func (l *Ledger) ClockOutAsync(ctx context.Context) <-chan Outcome {
	return run(ctx, l.ClockOut)
}

func run(ctx context.Context, op func(context.Context) (Punch, error)) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		defer close(ch)
		p, err := op(ctx)
		ch <- Outcome{Punch: p, Err: err}
	}()
	return ch
}
