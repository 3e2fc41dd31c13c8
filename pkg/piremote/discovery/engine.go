package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marcuoli/go-piremote/pkg/piremote/mdns"
	"github.com/marcuoli/go-piremote/pkg/piremote/network"
	"github.com/marcuoli/go-piremote/pkg/piremote/probe"
	"github.com/marcuoli/go-piremote/pkg/piremote/ssdp"
)

// Defaults for Options.
const (
	DefaultWorkers         = 64
	DefaultPassInterval    = 2 * time.Second
	DefaultFailureCooldown = 5 * time.Second
	DefaultHintTimeout     = 2 * time.Second
)

// ErrScanInProgress is returned when a pass or loop is already running.
var ErrScanInProgress = errors.New("scan already in progress")

// DebugLogger is a callback for debug logging.
var DebugLogger func(format string, args ...interface{})

func debugLog(format string, args ...interface{}) {
	if DebugLogger != nil {
		DebugLogger(format, args...)
	}
}

// Prober checks one address.
type Prober interface {
	Probe(ctx context.Context, ip string) (probe.Result, bool)
}

// HintSource passively collects address -> name pairs while a pass runs.
type HintSource interface {
	Name() string
	Hints(ctx context.Context) (map[string]string, error)
}

// Options configures an Engine.
type Options struct {
	Workers        int
	Probe          probe.Options
	TargetPatterns []string
	// PassInterval separates passes of Run; FailureCooldown replaces it
	// after a failed pass.
	PassInterval    time.Duration
	FailureCooldown time.Duration
	// Hints enables zeroconf and SSDP name collection at the start of each
	// pass. Probes wait for it, at most HintTimeout.
	Hints       bool
	HintTimeout time.Duration
	HintSources []HintSource
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		Workers:         DefaultWorkers,
		Probe:           probe.DefaultOptions(),
		PassInterval:    DefaultPassInterval,
		FailureCooldown: DefaultFailureCooldown,
		HintTimeout:     DefaultHintTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.PassInterval <= 0 {
		o.PassInterval = DefaultPassInterval
	}
	if o.FailureCooldown <= 0 {
		o.FailureCooldown = DefaultFailureCooldown
	}
	if o.HintTimeout <= 0 {
		o.HintTimeout = DefaultHintTimeout
	}
	return o
}

// Engine runs discovery passes. One pass runs at a time.
type Engine struct {
	opts    Options
	prober  Prober
	state   *State
	hints   *probe.Hints
	sources []HintSource
	now     func() time.Time

	mu         sync.Mutex
	passCancel context.CancelFunc
	runCancel  context.CancelFunc
	lastErr    error
}

// NewEngine creates an engine probing with probe.New(opts.Probe).
func NewEngine(opts Options) *Engine {
	opts = opts.withDefaults()
	po := opts.Probe

	var hints *probe.Hints
	if opts.Hints {
		hints = probe.NewHints()
		if po.Resolvers == nil {
			timeout := po.NameTimeout
			if timeout <= 0 {
				timeout = probe.DefaultNameTimeout
			}
			po.Resolvers = probe.DefaultResolvers(timeout)
		}
		po.Resolvers = append(append([]probe.Resolver(nil), po.Resolvers...), hints)
	}
	return newEngine(opts, probe.New(po), hints)
}

// NewEngineWithProber creates an engine around a custom Prober. With
// opts.Hints set, the prober can read collected names through Hints.
func NewEngineWithProber(opts Options, p Prober) *Engine {
	opts = opts.withDefaults()
	var hints *probe.Hints
	if opts.Hints {
		hints = probe.NewHints()
	}
	return newEngine(opts, p, hints)
}

func newEngine(opts Options, p Prober, hints *probe.Hints) *Engine {
	e := &Engine{
		opts:   opts,
		prober: p,
		state:  NewState(),
		hints:  hints,
		now:    time.Now,
	}
	if hints != nil {
		e.sources = opts.HintSources
		if e.sources == nil {
			e.sources = defaultHintSources(opts.HintTimeout)
		}
	}
	return e
}

// State returns the shared device list and progress.
func (e *Engine) State() *State {
	return e.state
}

// Hints returns the pass hint table, or nil when hints are disabled.
func (e *Engine) Hints() *probe.Hints {
	return e.hints
}

// Err returns the fault that ended the last pass, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Scan starts one pass over prefix and returns the devices found, in
// completion order. The channel is closed when every address was probed or
// the pass was stopped. Progress restarts at 0.
func (e *Engine) Scan(ctx context.Context, prefix string) (<-chan Device, error) {
	ips, err := network.ResolvePrefix(prefix)
	if err != nil {
		return nil, err
	}
	return e.ScanAddrs(ctx, ips)
}

// ScanAddrs is Scan over an explicit address list.
func (e *Engine) ScanAddrs(ctx context.Context, ips []string) (<-chan Device, error) {
	e.mu.Lock()
	if e.passCancel != nil {
		e.mu.Unlock()
		return nil, ErrScanInProgress
	}
	pctx, cancel := context.WithCancel(ctx)
	e.passCancel = cancel
	e.lastErr = nil
	e.mu.Unlock()

	pass := e.state.beginPass(len(ips))
	out := make(chan Device)
	go e.runPass(pctx, cancel, pass, ips, out)
	return out, nil
}

// Collect runs one pass and returns the devices it found.
func (e *Engine) Collect(ctx context.Context, prefix string) ([]Device, error) {
	ch, err := e.Scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var found []Device
	for d := range ch {
		found = append(found, d)
	}
	return found, e.Err()
}

func (e *Engine) runPass(ctx context.Context, cancel context.CancelFunc, pass uint64, ips []string, out chan<- Device) {
	defer close(out)
	defer func() {
		interrupted := ctx.Err() != nil
		cancel()
		if interrupted {
			e.state.reset()
		} else {
			e.state.endPass(pass)
		}
		e.mu.Lock()
		e.passCancel = nil
		e.mu.Unlock()
	}()

	if c, ok := e.prober.(interface{ Check() error }); ok {
		if err := c.Check(); err != nil {
			e.fail(fmt.Errorf("prober unavailable: %w", err))
			return
		}
	}

	e.collectHints(ctx)

	debugLog("pass started: %d addresses, %d workers", len(ips), e.opts.Workers)
	jobs := make(chan string)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for ip := range jobs {
			dev, ok, err := e.probeOne(ctx, ip)
			if err != nil {
				e.fail(err)
				cancel()
			}
			if ok && e.state.add(dev) {
				debugLog("found %s (%s) ports=%s", dev.Address, dev.Hostname, dev.OpenPorts)
			}
			e.state.advance(pass)
			if ok {
				select {
				case out <- dev:
				case <-ctx.Done():
				}
			}
		}
	}

	workers := e.opts.Workers
	if workers > len(ips) {
		workers = len(ips)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker()
	}

enqueue:
	for _, ip := range ips {
		select {
		case <-ctx.Done():
			break enqueue
		case jobs <- ip:
		}
	}
	close(jobs)
	wg.Wait()
	debugLog("pass finished: progress=%d/%d devices=%d", e.state.Progress(), len(ips), e.state.Len())
}

// collectHints runs every hint source and waits for them, bounded by
// HintTimeout, so names are known before live hosts are named.
func (e *Engine) collectHints(ctx context.Context) {
	if len(e.sources) == 0 {
		return
	}
	hctx, cancel := context.WithTimeout(ctx, e.opts.HintTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, src := range e.sources {
		wg.Add(1)
		go func(src HintSource) {
			defer wg.Done()
			names, err := src.Hints(hctx)
			if err != nil {
				debugLog("hint source %s: %v", src.Name(), err)
				return
			}
			if n := e.hints.Merge(names); n > 0 {
				debugLog("hint source %s: %d new names", src.Name(), n)
			}
		}(src)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-hctx.Done():
		debugLog("hint collection cut at %v", e.opts.HintTimeout)
	}
	debugLog("hints collected: %d names", e.hints.Len())
}

func (e *Engine) probeOne(ctx context.Context, ip string) (dev Device, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			dev, ok, err = Device{}, false, fmt.Errorf("probe %s: panic: %v", ip, r)
		}
	}()
	res, found := e.prober.Probe(ctx, ip)
	if !found {
		return Device{}, false, nil
	}
	if res.Address == "" {
		res.Address = ip
	}
	return newDevice(res, e.opts.TargetPatterns, e.now()), true, nil
}

func (e *Engine) fail(err error) {
	e.mu.Lock()
	if e.lastErr == nil {
		e.lastErr = err
	}
	e.mu.Unlock()
	debugLog("pass failed: %v", err)
}

// Abort cancels the running pass and its in-flight probes. A surrounding
// Run loop keeps going with its next pass.
func (e *Engine) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.passCancel != nil {
		e.passCancel()
	}
}

// Stop ends the running pass and any Run loop, and resets progress to 0.
// The device list is kept.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.runCancel != nil {
		e.runCancel()
	}
	if e.passCancel != nil {
		e.passCancel()
	}
	e.mu.Unlock()
	e.state.reset()
}

// Run scans prefix repeatedly until ctx ends or Stop is called. Passes are
// separated by PassInterval, or FailureCooldown after a failed pass.
// Devices accumulate across passes.
func (e *Engine) Run(ctx context.Context, prefix string) error {
	ips, err := network.ResolvePrefix(prefix)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.runCancel != nil {
		e.mu.Unlock()
		return ErrScanInProgress
	}
	rctx, rcancel := context.WithCancel(ctx)
	e.runCancel = rcancel
	e.mu.Unlock()

	defer func() {
		rcancel()
		e.mu.Lock()
		e.runCancel = nil
		e.mu.Unlock()
		e.state.reset()
	}()

	for passes := 1; rctx.Err() == nil; passes++ {
		wait := e.opts.PassInterval
		if err := e.runOnce(rctx, ips); err != nil && rctx.Err() == nil {
			debugLog("pass %d failed, retrying in %v: %v", passes, e.opts.FailureCooldown, err)
			wait = e.opts.FailureCooldown
		}

		t := time.NewTimer(wait)
		select {
		case <-rctx.Done():
			t.Stop()
		case <-t.C:
		}
	}
	return nil
}

func (e *Engine) runOnce(ctx context.Context, ips []string) error {
	ch, err := e.ScanAddrs(ctx, ips)
	if err != nil {
		return err
	}
	for range ch {
	}
	return e.Err()
}

type hintFunc struct {
	name string
	fn   func(ctx context.Context) (map[string]string, error)
}

func (h hintFunc) Name() string { return h.name }

func (h hintFunc) Hints(ctx context.Context) (map[string]string, error) { return h.fn(ctx) }

func defaultHintSources(timeout time.Duration) []HintSource {
	m := mdns.NewDiscovery()
	m.Timeout = timeout
	s := ssdp.NewDiscovery()
	s.Timeout = timeout
	return []HintSource{
		hintFunc{"zeroconf", func(ctx context.Context) (map[string]string, error) { return m.Browse(ctx) }},
		hintFunc{"ssdp", s.Hints},
	}
}
