package onboard

import (
	"fmt"
	"io/ioutil"

	"github.com/CodedInternet/gopigeon/onboard/pigeon"
	"github.com/Masterminds/semver"
	"gopkg.in/yaml.v2"
)

const (
	CONFIG_VERSION           = 1
	DEFAULT_PARAM_TIMEOUT_MS = 30
	DEFAULT_STALE_MS         = 200

	BUS_SOCKETCAN = "socketcan"
	BUS_SLCAN     = "slcan"
	BUS_SIM       = "sim"
)

type BusConfig struct {
	Kind      string `yaml:"kind"`
	Interface string `yaml:"interface,omitempty"` // socketcan
	Port      string `yaml:"port,omitempty"`      // slcan
	Baud      int    `yaml:"baud,omitempty"`
	Bitrate   int    `yaml:"bitrate,omitempty"`
}

type PigeonConfig struct {
	Bus            string         `yaml:"bus"`
	DeviceNumber   int            `yaml:"device_number"`
	Talon          bool           `yaml:"talon,omitempty"`
	ParamTimeoutMs int            `yaml:"param_timeout_ms,omitempty"`
	StaleMs        int            `yaml:"stale_ms,omitempty"`
	MinFirmware    string         `yaml:"min_firmware,omitempty"`
	FrameRates     map[string]int `yaml:"frame_rates,omitempty,flow"`
}

// ParamTimeout returns the configured parameter timeout, falling back to the default.
func (pc PigeonConfig) ParamTimeout() int {
	if pc.ParamTimeoutMs == 0 {
		return DEFAULT_PARAM_TIMEOUT_MS
	}
	return pc.ParamTimeoutMs
}

func (pc PigeonConfig) Stale() int {
	if pc.StaleMs == 0 {
		return DEFAULT_STALE_MS
	}
	return pc.StaleMs
}

type Config struct {
	Version int                     `yaml:"version"`
	Buses   map[string]BusConfig    `yaml:"buses"`
	Pigeons map[string]PigeonConfig `yaml:"pigeons"`
}

func ParseConfig(data []byte) (config Config, err error) {
	if err = yaml.Unmarshal(data, &config); err != nil {
		return
	}
	err = config.Validate()
	return
}

func LoadConfig(filename string) (config Config, err error) {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return
	}
	return ParseConfig(data)
}

// SimConfig is a single simulated Pigeon on a simulated bus.
func SimConfig() Config {
	return Config{
		Version: CONFIG_VERSION,
		Buses: map[string]BusConfig{
			"sim": {Kind: BUS_SIM},
		},
		Pigeons: map[string]PigeonConfig{
			"sim": {Bus: "sim", DeviceNumber: 0},
		},
	}
}

func (c Config) Validate() error {
	switch c.Version {
	case CONFIG_VERSION:
	default:
		return fmt.Errorf("unable to work with version %d", c.Version)
	}

	for name, bc := range c.Buses {
		switch bc.Kind {
		case BUS_SOCKETCAN:
			if bc.Interface == "" {
				return fmt.Errorf("bus '%s' needs an interface", name)
			}
		case BUS_SLCAN:
			if bc.Port == "" {
				return fmt.Errorf("bus '%s' needs a port", name)
			}
			if bc.Baud < 0 || bc.Bitrate < 0 {
				return fmt.Errorf("bus '%s' has a negative baud or bitrate", name)
			}
		case BUS_SIM:
		default:
			return fmt.Errorf("bus '%s' has unknown kind '%s'", name, bc.Kind)
		}
	}

	type address struct {
		bus    string
		number int
		talon  bool
	}
	seen := make(map[address]string)

	for name, pc := range c.Pigeons {
		if _, ok := c.Buses[pc.Bus]; !ok {
			return fmt.Errorf("pigeon '%s' uses unknown bus '%s'", name, pc.Bus)
		}
		if pc.DeviceNumber < 0 || pc.DeviceNumber > pigeon.MAX_DEVICE_NUMBER {
			return fmt.Errorf("pigeon '%s' has device number %d outside [0, %d]", name, pc.DeviceNumber, pigeon.MAX_DEVICE_NUMBER)
		}
		if pc.ParamTimeoutMs < 0 || pc.StaleMs < 0 {
			return fmt.Errorf("pigeon '%s' has a negative timeout", name)
		}
		if pc.MinFirmware != "" {
			if _, err := semver.NewConstraint(pc.MinFirmware); err != nil {
				return fmt.Errorf("pigeon '%s' has bad min_firmware: %v", name, err)
			}
		}
		for key, ms := range pc.FrameRates {
			if _, ok := pigeon.StatusFrameNames[key]; !ok {
				return fmt.Errorf("pigeon '%s' has unknown frame rate '%s'", name, key)
			}
			if ms < 0 || ms > 0xFF {
				return fmt.Errorf("pigeon '%s' frame rate '%s' must be within [0, 255] ms", name, key)
			}
		}

		addr := address{pc.Bus, pc.DeviceNumber, pc.Talon}
		if other, dup := seen[addr]; dup {
			return fmt.Errorf("pigeons '%s' and '%s' share an address", name, other)
		}
		seen[addr] = name
	}

	return nil
}
