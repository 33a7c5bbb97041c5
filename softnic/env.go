package softnic

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
)

// EnvConfig describes a softnic instance.
type EnvConfig struct {
	Name  string
	Cores int
	// CoreBase is the first CPU of the instance. The calling thread is
	// pinned to it. A negative value disables pinning.
	CoreBase int
	Ports    map[string]PortConfig
	Logger   *slog.Logger
}

// Env is an initialized softnic instance. It owns every port opened
// through it.
//
// WARNING: Env must be used and closed from the goroutine that called Init.
type Env struct {
	conf   EnvConfig
	log    *slog.Logger
	lcore  int
	ports  map[string]Port
	order  []string
	closed bool
}

// Init locks the calling goroutine to its OS thread and pins the thread to
// conf.CoreBase.
func Init(conf EnvConfig) (*Env, error) {
	if conf.Name == "" {
		return nil, errors.New("instance name is empty")
	}
	if conf.Cores < 1 {
		return nil, fmt.Errorf("instance %s: core count must be > 0, got %d",
			conf.Name, conf.Cores)
	}
	log := conf.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("instance", conf.Name))

	e := &Env{
		conf:  conf,
		log:   log,
		lcore: -1,
		ports: make(map[string]Port, len(conf.Ports)),
	}

	runtime.LockOSThread()
	if conf.CoreBase >= 0 {
		if n := runtime.NumCPU(); conf.CoreBase >= n {
			runtime.UnlockOSThread()
			return nil, fmt.Errorf("instance %s: core base %d out of range, %d CPUs",
				conf.Name, conf.CoreBase, n)
		}
		if err := pinThread(conf.CoreBase); err != nil {
			runtime.UnlockOSThread()
			return nil, fmt.Errorf("instance %s: pinning to CPU %d: %w",
				conf.Name, conf.CoreBase, err)
		}
		e.lcore = conf.CoreBase
	}
	log.Info("softnic initialized",
		slog.Int("cores", conf.Cores),
		slog.Int("lcore", e.lcore),
		slog.Int("ports", len(conf.Ports)))
	return e, nil
}

// LcoreID returns the CPU the packet thread is pinned to or -1.
func (e *Env) LcoreID() int { return e.lcore }

// Name returns the instance name.
func (e *Env) Name() string { return e.conf.Name }

// Logger returns the instance logger.
func (e *Env) Logger() *slog.Logger { return e.log }

// OpenPort opens the port configured under name. Opening the same name
// twice returns the same port.
func (e *Env) OpenPort(name string) (Port, error) {
	if e.closed {
		return nil, errors.New("environment closed")
	}
	if p, ok := e.ports[name]; ok {
		return p, nil
	}
	conf, ok := e.conf.Ports[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownPort)
	}
	open, ok := drivers[conf.Driver]
	if !ok {
		return nil, fmt.Errorf("port %s: %q: %w", name, conf.Driver, ErrUnknownDriver)
	}
	p, err := open(name, conf, e.log)
	if err != nil {
		return nil, err
	}
	e.ports[name] = p
	e.order = append(e.order, name)
	return p, nil
}

// Close closes all ports in reverse opening order and unlocks the thread.
func (e *Env) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	var errs []error
	for _, name := range slices.Backward(e.order) {
		if err := e.ports[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing port %s: %w", name, err))
		}
	}
	e.ports, e.order = nil, nil
	runtime.UnlockOSThread()
	return errors.Join(errs...)
}
