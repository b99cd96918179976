// Package conf contains the struct that holds the configuration of the software.
package conf

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/moschopsuk/ndi-router/internal/logger"
)

// Conf is a configuration.
type Conf struct {
	// general
	LogLevel        LogLevel        `yaml:"logLevel"`
	LogDestinations LogDestinations `yaml:"logDestinations"`
	LogFile         string          `yaml:"logFile"`

	// videohub
	ListenAddress  string `yaml:"listen"`
	DeviceName     string `yaml:"deviceName"`
	VideoInputs    int    `yaml:"videoInputs"`
	VideoOutputs   int    `yaml:"videoOutputs"`
	WriteQueueSize int    `yaml:"writeQueueSize"`

	// NDI
	DiscoveryInterval time.Duration `yaml:"discoveryInterval"`
	NDIGroups         string        `yaml:"ndiGroups"`
	NDIExtraIPs       []string      `yaml:"ndiExtraIPs"`

	// API
	API        bool   `yaml:"api"`
	APIAddress string `yaml:"apiAddress"`

	// metrics
	Metrics        bool   `yaml:"metrics"`
	MetricsAddress string `yaml:"metricsAddress"`

	// pprof
	PPROF        bool   `yaml:"pprof"`
	PPROFAddress string `yaml:"pprofAddress"`
}

func (conf *Conf) setDefaults() {
	if conf.LogLevel == 0 {
		conf.LogLevel = LogLevel(logger.Info)
	}
	if conf.LogDestinations == nil {
		conf.LogDestinations = LogDestinations{logger.DestinationStdout}
	}
	if conf.LogFile == "" {
		conf.LogFile = "ndi-router.log"
	}

	if conf.ListenAddress == "" {
		conf.ListenAddress = ":9990"
	}
	if conf.DeviceName == "" {
		conf.DeviceName = "NDI Videohub"
	}
	if conf.VideoInputs == 0 {
		conf.VideoInputs = 16
	}
	if conf.VideoOutputs == 0 {
		conf.VideoOutputs = 8
	}
	if conf.WriteQueueSize == 0 {
		conf.WriteQueueSize = 128
	}

	if conf.DiscoveryInterval == 0 {
		conf.DiscoveryInterval = 5 * time.Second
	}

	if conf.APIAddress == "" {
		conf.APIAddress = "127.0.0.1:9997"
	}
	if conf.MetricsAddress == "" {
		conf.MetricsAddress = "127.0.0.1:9998"
	}
	if conf.PPROFAddress == "" {
		conf.PPROFAddress = "127.0.0.1:9999"
	}
}

// Check checks the configuration for errors.
func (conf *Conf) Check() error {
	if conf.VideoInputs < 1 || conf.VideoInputs > 288 {
		return fmt.Errorf("invalid videoInputs: %d", conf.VideoInputs)
	}

	if conf.VideoOutputs < 1 || conf.VideoOutputs > 288 {
		return fmt.Errorf("invalid videoOutputs: %d", conf.VideoOutputs)
	}

	if (conf.WriteQueueSize & (conf.WriteQueueSize - 1)) != 0 {
		return fmt.Errorf("writeQueueSize must be a power of two")
	}

	return nil
}

// Load loads a configuration from a file.
// The secondary return value reports whether the file was found.
func Load(fpath string) (*Conf, bool, error) {
	conf := &Conf{}

	found, err := func() (bool, error) {
		// the default config file is optional
		if fpath == "ndi-router.yml" {
			if _, err := os.Stat(fpath); err != nil {
				return false, nil
			}
		}

		byts, err := os.ReadFile(fpath)
		if err != nil {
			return false, err
		}

		err = yaml.UnmarshalStrict(byts, conf)
		if err != nil {
			return true, err
		}

		return true, nil
	}()
	if err != nil {
		return nil, found, err
	}

	conf.setDefaults()

	err = conf.Check()
	if err != nil {
		return nil, found, err
	}

	return conf, found, nil
}
