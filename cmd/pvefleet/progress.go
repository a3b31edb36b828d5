package main

import (
	"fmt"

	"github.com/nexops/pvefleet/pkg/trace"
)

// streamProgress prints every phase transition as it happens, until the
// returned stop function unsubscribes from the tracer. Reading the tracer
// keeps the CLI's live progress output decoupled from the scheduler's
// internals.
func streamProgress(tracer *trace.Tracer) func() {
	sub := tracer.Subscribe()
	done := make(chan struct{})

	go func() {
		for tr := range sub {
			fmt.Printf("[%s] %-8s %-14s %s\n", tr.Host, tr.Status, tr.Phase, tr.Detail)
		}
		close(done)
	}()

	return func() {
		tracer.Unsubscribe(sub)
		<-done
	}
}

func printOutcomeSummary(final string, guestCount int, errSummary string) {
	if errSummary != "" {
		fmt.Printf("  result: %s (%s)\n", final, errSummary)
		return
	}
	fmt.Printf("  result: %s (%d guests)\n", final, guestCount)
}
