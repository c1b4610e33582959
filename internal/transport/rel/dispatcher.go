package rel

import "time"

// PollInterval is the bounded-wait ceiling the dispatcher uses between
// checks of its own stop signal, matching spec.md §4.2's "~100ms" cooperative
// poll even though the channel-based implementation below reacts to the
// stop signal immediately rather than waiting out the full interval.
const PollInterval = 100 * time.Millisecond

// Dispatcher is the single task that drives every reliable intake socket
// plus the UI command socket, in spec.md §5's "one task for the reliable-
// transport polling dispatcher" scheduling model. Each intake socket
// pushes into a shared channel from its own reader goroutine (see
// TelemetryIntake.handle/CommandIntake.handle); Dispatcher.Run is the only
// goroutine that drains those channels, so it is also the only goroutine
// that ever touches the publisher or calls the telemetry/command
// callbacks — satisfying the "publisher only touched by the dispatcher"
// rule without a mutex.
type Dispatcher struct {
	telemetry <-chan IngressMessage
	commands  <-chan []byte

	onTelemetry func(IngressMessage)
	onCommand   func([]byte)

	stop chan struct{}
	done chan struct{}
}

// NewDispatcher wires a dispatcher over the given shared channels.
func NewDispatcher(telemetry <-chan IngressMessage, commands <-chan []byte, onTelemetry func(IngressMessage), onCommand func([]byte)) *Dispatcher {
	return &Dispatcher{
		telemetry:   telemetry,
		commands:    commands,
		onTelemetry: onTelemetry,
		onCommand:   onCommand,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Run drives the dispatch loop until Stop is called. It blocks; call it
// from its own goroutine.
func (d *Dispatcher) Run() {
	defer close(d.done)

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case msg := <-d.telemetry:
			d.onTelemetry(msg)
		case body := <-d.commands:
			d.onCommand(body)
		case <-ticker.C:
			// bounded-wait tick; loop back and re-check the stop signal
			// even when no traffic is flowing (spec.md §4.5: "Shutdown
			// must complete deterministically even if no traffic is
			// flowing").
		}
	}
}

// Stop requests the dispatch loop to exit and waits for it to do so. Any
// in-flight callback invocation is allowed to finish first (spec.md §4.5
// step 1: "in-flight frames complete").
func (d *Dispatcher) Stop() {
	close(d.stop)
	<-d.done
}
