package offline

import (
	"context"
	"sync"
)

// ReachabilityState is one platform reachability sample.
type ReachabilityState struct {
	Connected         bool
	InternetReachable bool
}

// Online reports whether the sample counts as online.
func (state ReachabilityState) Online() bool {
	return state.Connected && state.InternetReachable
}

// ConnectivityListener is notified on a transition.
type ConnectivityListener func(ctx context.Context)

// MonitorOption configures a ConnectivityMonitor.
type MonitorOption func(*ConnectivityMonitor)

// ConnectivityMonitor tracks reachability and fans out online/offline
// transitions. It never touches the ledger.
type ConnectivityMonitor struct {
	mutex       sync.RWMutex
	online      bool
	invalidate  []ConnectivityListener
	onOnline    []ConnectivityListener
	onOffline   []ConnectivityListener
	transitions int
}

// WithInvalidationListener registers a callback that drops cached remote
// views when the device comes back online.
func WithInvalidationListener(listener ConnectivityListener) MonitorOption {
	return func(monitor *ConnectivityMonitor) {
		if listener != nil {
			monitor.invalidate = append(monitor.invalidate, listener)
		}
	}
}

// WithOnlineListener registers a callback fired on every offline to online
// transition. This is the conventional sync trigger.
func WithOnlineListener(listener ConnectivityListener) MonitorOption {
	return func(monitor *ConnectivityMonitor) {
		if listener != nil {
			monitor.onOnline = append(monitor.onOnline, listener)
		}
	}
}

// WithOfflineListener registers a callback fired when connectivity drops.
func WithOfflineListener(listener ConnectivityListener) MonitorOption {
	return func(monitor *ConnectivityMonitor) {
		if listener != nil {
			monitor.onOffline = append(monitor.onOffline, listener)
		}
	}
}

// NewConnectivityMonitor starts in the given state without firing listeners.
func NewConnectivityMonitor(initiallyOnline bool, options ...MonitorOption) *ConnectivityMonitor {
	monitor := &ConnectivityMonitor{online: initiallyOnline}
	for _, option := range options {
		if option != nil {
			option(monitor)
		}
	}
	return monitor
}

// IsOnline returns the last observed state.
func (monitor *ConnectivityMonitor) IsOnline() bool {
	monitor.mutex.RLock()
	defer monitor.mutex.RUnlock()
	return monitor.online
}

// Transitions returns the number of observed state changes.
func (monitor *ConnectivityMonitor) Transitions() int {
	monitor.mutex.RLock()
	defer monitor.mutex.RUnlock()
	return monitor.transitions
}

// Observe records a reachability sample. Listeners run synchronously on the
// caller's goroutine, after the state change is visible to IsOnline.
func (monitor *ConnectivityMonitor) Observe(ctx context.Context, state ReachabilityState) {
	online := state.Online()

	monitor.mutex.Lock()
	previous := monitor.online
	monitor.online = online
	if previous != online {
		monitor.transitions++
	}
	invalidate := monitor.invalidate
	onOnline := monitor.onOnline
	onOffline := monitor.onOffline
	monitor.mutex.Unlock()

	switch {
	case !previous && online:
		for _, listener := range invalidate {
			listener(ctx)
		}
		for _, listener := range onOnline {
			listener(ctx)
		}
	case previous && !online:
		for _, listener := range onOffline {
			listener(ctx)
		}
	}
}

// Run consumes samples until ctx is done or the channel closes.
func (monitor *ConnectivityMonitor) Run(ctx context.Context, states <-chan ReachabilityState) {
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			monitor.Observe(ctx, state)
		}
	}
}
