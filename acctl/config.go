package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/docopt/docopt-go"
	"gopkg.in/yaml.v3"

	"github.com/kmzbrnoi/ac-go/ac"
)

const DefaultServer = "localhost"
const DefaultAppName = "acctl"

// Config file:
//
//	server: localhost
//	port: 5896
//	pt_port: 5823
//	app_name: acctl
//	status_port: 8080
//	acs:
//	  - id: "5000"
//	    password: secret
type Config struct {
	Server     string     `yaml:"server"`
	Port       int        `yaml:"port"`
	PtPort     int        `yaml:"pt_port"`
	AppName    string     `yaml:"app_name"`
	StatusPort int        `yaml:"status_port"`
	ACs        []ACConfig `yaml:"acs"`
}

type ACConfig struct {
	Id       string `yaml:"id"`
	Password string `yaml:"password"`
}

func DefaultConfig() *Config {
	return &Config{
		Server:  DefaultServer,
		Port:    ac.DefaultPanelPort,
		PtPort:  ac.DefaultPtPort,
		AppName: DefaultAppName,
		ACs:     []ACConfig{},
	}
}

// fields missing from the file keep their value
func LoadConfig(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, config)
}

// defaults, then the config file, then the options
func ParseConfig(opts docopt.Opts) (*Config, error) {
	config := DefaultConfig()

	if path, _ := opts.String("--config"); path != "" {
		if err := LoadConfig(path, config); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if server, _ := opts.String("-s"); server != "" {
		config.Server = server
	}
	for _, intOpt := range []struct {
		key   string
		value *int
	}{
		{"-p", &config.Port},
		{"--pt_port", &config.PtPort},
		{"--status_port", &config.StatusPort},
	} {
		valueAny, ok := opts[intOpt.key]
		if !ok || valueAny == nil {
			continue
		}
		value, err := strconv.Atoi(fmt.Sprint(valueAny))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", intOpt.key, err)
		}
		*intOpt.value = value
	}
	if appName, _ := opts.String("--app_name"); appName != "" {
		config.AppName = appName
	}
	return config, nil
}

// the password for `acId` from the config, if any
func (self *Config) Password(acId string) (string, bool) {
	for _, acConfig := range self.ACs {
		if acConfig.Id == acId {
			return acConfig.Password, true
		}
	}
	return "", false
}
