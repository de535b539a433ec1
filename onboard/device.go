package onboard

import (
	"fmt"
	"sort"
	"time"

	"github.com/CodedInternet/gopigeon/onboard/canbus"
	deverr "github.com/CodedInternet/gopigeon/onboard/errors"
	"github.com/CodedInternet/gopigeon/onboard/pigeon"
	"github.com/sirupsen/logrus"
)

// Device is a configured Pigeon with the settings its callers need.
type Device struct {
	*pigeon.PigeonIMU
	Name      string
	Bus       string
	TimeoutMs int
	Cache     *canbus.FrameCache
	Sim       *SimulatedPigeon // set on simulated buses

	config PigeonConfig
}

// Onboard owns the buses and Pigeons described by a Config.
type Onboard struct {
	Pigeons map[string]*Device

	buses  map[string]canbus.CANBusInterface
	config Config
	clock  canbus.Clock
	usage  *pigeon.UsageStats
	log    logrus.FieldLogger
}

type OnboardOption func(o *Onboard)

func WithOnboardClock(clock canbus.Clock) OnboardOption {
	return func(o *Onboard) {
		o.clock = clock
	}
}

func WithOnboardUsage(usage *pigeon.UsageStats) OnboardOption {
	return func(o *Onboard) {
		o.usage = usage
	}
}

func WithOnboardLogger(log logrus.FieldLogger) OnboardOption {
	return func(o *Onboard) {
		o.log = log
	}
}

func NewOnboard(config Config, opts ...OnboardOption) (o *Onboard, err error) {
	if err = config.Validate(); err != nil {
		return
	}

	o = &Onboard{
		Pigeons: make(map[string]*Device, len(config.Pigeons)),
		buses:   make(map[string]canbus.CANBusInterface),
		config:  config,
		clock:   canbus.SystemClock{},
		usage:   pigeon.DefaultUsageStats,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}

	defer func() {
		if err != nil {
			o.Close()
			o = nil
		}
	}()

	names := make([]string, 0, len(config.Pigeons))
	for name := range config.Pigeons {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pc := config.Pigeons[name]

		var bus canbus.CANBusInterface
		bus, err = o.getBus(pc.Bus)
		if err != nil {
			return
		}

		log := o.log.WithFields(logrus.Fields{"pigeon": name, "bus": pc.Bus})
		cache := canbus.NewFrameCache(bus,
			canbus.WithClock(o.clock),
			canbus.WithStaleThreshold(time.Duration(pc.Stale())*time.Millisecond),
			canbus.WithCacheLogger(log),
		)

		driverOpts := []pigeon.Option{
			pigeon.WithClock(o.clock),
			pigeon.WithUsageStats(o.usage),
			pigeon.WithLogger(log),
		}

		var imu *pigeon.PigeonIMU
		if pc.Talon {
			imu, err = pigeon.NewPigeonIMUViaTalon(cache, pc.DeviceNumber, driverOpts...)
		} else {
			imu, err = pigeon.NewPigeonIMU(cache, pc.DeviceNumber, driverOpts...)
		}
		if err != nil {
			return
		}

		device := &Device{
			PigeonIMU: imu,
			Name:      name,
			Bus:       pc.Bus,
			TimeoutMs: pc.ParamTimeout(),
			Cache:     cache,
			config:    pc,
		}

		if config.Buses[pc.Bus].Kind == BUS_SIM {
			device.Sim, err = NewSimulatedPigeon(bus, pc.DeviceNumber, pc.Talon, o.clock)
			if err != nil {
				return
			}
		}

		o.Pigeons[name] = device
		log.WithField("device", pc.DeviceNumber).Info("pigeon attached")
	}

	return
}

func (o *Onboard) getBus(name string) (bus canbus.CANBusInterface, err error) {
	bus, ok := o.buses[name]
	if ok {
		return
	}

	bc := o.config.Buses[name]
	switch bc.Kind {
	case BUS_SOCKETCAN:
		bus, err = canbus.NewCANBus(bc.Interface)
	case BUS_SLCAN:
		bus, err = canbus.NewSLCANBus(bc.Port, bc.Baud, bc.Bitrate)
	case BUS_SIM:
		bus = canbus.NewLoopbackBus()
	default:
		err = &deverr.UnsupportedBusError{Kind: bc.Kind}
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open bus '%s': %v", name, err)
	}

	o.buses[name] = bus
	return
}

// Start enables the firmware status frame on every Pigeon and starts the simulators.
func (o *Onboard) Start() {
	for _, name := range o.Names() {
		device := o.Pigeons[name]
		if device.Sim != nil {
			device.Sim.Start()
		}
		if err := device.EnableFirmStatusFrame(true); err != nil {
			o.log.WithError(err).WithField("pigeon", name).Warn("unable to enable status frame")
		}
	}
}

// Configure applies the configured frame rates and checks firmware versions. Every Pigeon
// is attempted, the first error is returned.
func (o *Onboard) Configure() (err error) {
	keep := func(e error) {
		if e != nil && err == nil {
			err = e
		}
	}

	for _, name := range o.Names() {
		device := o.Pigeons[name]
		log := o.log.WithField("pigeon", name)

		frames := make([]string, 0, len(device.config.FrameRates))
		for key := range device.config.FrameRates {
			frames = append(frames, key)
		}
		sort.Strings(frames)

		for _, key := range frames {
			frame := pigeon.StatusFrameNames[key]
			if e := device.SetStatusFrameRateMs(frame, device.config.FrameRates[key], device.TimeoutMs); e != nil {
				log.WithError(e).WithField("frame", key).Warn("unable to set frame rate")
				keep(fmt.Errorf("pigeon '%s' frame rate '%s': %v", name, key, e))
			}
		}

		if device.config.MinFirmware != "" {
			if e := device.CheckFirmware(device.config.MinFirmware); e != nil {
				log.WithError(e).Error("firmware check failed")
				keep(fmt.Errorf("pigeon '%s' firmware: %v", name, e))
			}
		}
	}

	return
}

func (o *Onboard) Pigeon(name string) (*Device, error) {
	device, ok := o.Pigeons[name]
	if !ok {
		return nil, &deverr.UnknownPigeonError{Name: name}
	}
	return device, nil
}

func (o *Onboard) Names() []string {
	names := make([]string, 0, len(o.Pigeons))
	for name := range o.Pigeons {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (o *Onboard) Bus(name string) (canbus.CANBusInterface, bool) {
	bus, ok := o.buses[name]
	return bus, ok
}

func (o *Onboard) Close() {
	for _, device := range o.Pigeons {
		if device.Sim != nil {
			device.Sim.Stop()
		}
		device.Cache.Close()
	}
	for name, bus := range o.buses {
		if err := bus.Close(); err != nil {
			o.log.WithError(err).WithField("bus", name).Warn("unable to close bus")
		}
	}
}
