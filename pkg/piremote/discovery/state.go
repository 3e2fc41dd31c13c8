package discovery

import (
	"sync"
)

// EventKind identifies what changed in a State.
type EventKind int

const (
	// EventPassStart is published when a pass begins; Progress is 0.
	EventPassStart EventKind = iota
	// EventDevice is published when a new address joins the list.
	EventDevice
	// EventProgress is published after every completed probe and on reset.
	EventProgress
	// EventPassEnd is published when a pass finishes or is stopped.
	EventPassEnd
)

func (k EventKind) String() string {
	switch k {
	case EventPassStart:
		return "pass-start"
	case EventDevice:
		return "device"
	case EventProgress:
		return "progress"
	case EventPassEnd:
		return "pass-end"
	default:
		return "unknown"
	}
}

// Event is a State change delivered to subscribers.
type Event struct {
	Kind     EventKind
	Device   Device
	Progress int
	Total    int
}

// State is the device list and progress counter shared between the engine
// (the only writer) and any number of observers.
type State struct {
	mu       sync.RWMutex
	devices  []Device
	index    map[string]int
	progress int
	total    int
	scanning bool
	pass     uint64

	subMu sync.Mutex
	subs  map[int]chan Event
	next  int
}

// NewState creates an empty State.
func NewState() *State {
	return &State{
		index: make(map[string]int),
		subs:  make(map[int]chan Event),
	}
}

// Devices returns the device list in discovery order.
func (s *State) Devices() []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Device(nil), s.devices...)
}

// Device returns the entry for address.
func (s *State) Device(address string) (Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[address]
	if !ok {
		return Device{}, false
	}
	return s.devices[i], true
}

// Len returns the number of known devices.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

// Progress returns the number of probes completed in the current pass.
func (s *State) Progress() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

// Total returns the number of addresses in the current pass.
func (s *State) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Scanning reports whether a pass is running.
func (s *State) Scanning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanning
}

// Clear empties the device list. Progress is untouched.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = nil
	s.index = make(map[string]int)
}

// Subscribe returns a channel of State changes and a function that ends the
// subscription. Events are dropped for a subscriber whose buffer is full;
// the getters always reflect the current values.
func (s *State) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	s.subMu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

// publish is called with s.mu held so events leave in mutation order.
func (s *State) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// beginPass resets progress and returns the pass token for advance.
func (s *State) beginPass(total int) uint64 {
	s.mu.Lock()
	s.pass++
	pass := s.pass
	s.progress = 0
	s.total = total
	s.scanning = true
	s.publish(Event{Kind: EventPassStart, Total: total})
	s.mu.Unlock()
	return pass
}

// advance counts one completed probe of pass. Probes finishing after their
// pass was reset are ignored.
func (s *State) advance(pass uint64) {
	s.mu.Lock()
	if pass != s.pass || !s.scanning {
		s.mu.Unlock()
		return
	}
	s.progress++
	s.publish(Event{Kind: EventProgress, Progress: s.progress, Total: s.total})
	s.mu.Unlock()
}

// add appends d unless its address is already known.
func (s *State) add(d Device) bool {
	s.mu.Lock()
	if _, ok := s.index[d.Address]; ok {
		s.mu.Unlock()
		return false
	}
	s.index[d.Address] = len(s.devices)
	s.devices = append(s.devices, d)
	s.publish(Event{Kind: EventDevice, Device: d})
	s.mu.Unlock()
	return true
}

// endPass marks pass finished. A completed pass keeps its progress.
func (s *State) endPass(pass uint64) {
	s.mu.Lock()
	if pass != s.pass || !s.scanning {
		s.mu.Unlock()
		return
	}
	s.scanning = false
	s.publish(Event{Kind: EventPassEnd, Progress: s.progress, Total: s.total})
	s.mu.Unlock()
}

// reset ends any pass and sets progress back to 0.
func (s *State) reset() {
	s.mu.Lock()
	s.pass++
	wasScanning := s.scanning
	s.scanning = false
	s.progress = 0
	if wasScanning {
		s.publish(Event{Kind: EventPassEnd, Total: s.total})
	}
	s.publish(Event{Kind: EventProgress, Progress: 0, Total: s.total})
	s.mu.Unlock()
}
