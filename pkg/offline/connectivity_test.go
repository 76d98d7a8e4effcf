package offline

import (
	"context"
	"testing"
	"time"
)

func TestConnectivityMonitorTransitions(test *testing.T) {
	test.Parallel()
	var events []string
	monitor := NewConnectivityMonitor(false,
		WithInvalidationListener(func(context.Context) { events = append(events, "invalidate") }),
		WithOnlineListener(func(context.Context) { events = append(events, "online") }),
		WithOfflineListener(func(context.Context) { events = append(events, "offline") }),
	)
	ctx := context.Background()

	monitor.Observe(ctx, ReachabilityState{Connected: true, InternetReachable: false})
	if monitor.IsOnline() || len(events) != 0 {
		test.Fatalf("connected without internet must stay offline, events=%v", events)
	}
	monitor.Observe(ctx, ReachabilityState{Connected: true, InternetReachable: true})
	monitor.Observe(ctx, ReachabilityState{Connected: true, InternetReachable: true})
	if !monitor.IsOnline() {
		test.Fatalf("expected online")
	}
	monitor.Observe(ctx, ReachabilityState{})
	expected := []string{"invalidate", "online", "offline"}
	if len(events) != len(expected) {
		test.Fatalf("expected %v, got %v", expected, events)
	}
	for index := range expected {
		if events[index] != expected[index] {
			test.Fatalf("expected %v, got %v", expected, events)
		}
	}
	if monitor.Transitions() != 2 {
		test.Fatalf("expected 2 transitions, got %d", monitor.Transitions())
	}
}

func TestConnectivityMonitorRun(test *testing.T) {
	test.Parallel()
	onlineCalls := make(chan struct{}, 4)
	monitor := NewConnectivityMonitor(false, WithOnlineListener(func(context.Context) { onlineCalls <- struct{}{} }))
	states := make(chan ReachabilityState)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		monitor.Run(ctx, states)
		close(done)
	}()
	states <- ReachabilityState{Connected: true, InternetReachable: true}
	select {
	case <-onlineCalls:
	case <-time.After(time.Second):
		test.Fatalf("expected online listener")
	}
	close(states)
	select {
	case <-done:
	case <-time.After(time.Second):
		test.Fatalf("expected Run to return after the channel closed")
	}
}
