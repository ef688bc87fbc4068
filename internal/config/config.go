package config

import (
	"encoding/json"
	"os"
	"sync"
)

type DetectorMode string

const (
	DetectorCascade DetectorMode = "Cascade"
	DetectorRemote  DetectorMode = "Remote"

	DefaultConfigPath  string = "config.json"
	DefaultRemoteHost  string = "localhost:8080"
	DefaultCascadeFile string = "haarcascade_frontalface_default.xml"
)

var DetectorsList = [...]string{
	string(DetectorCascade),
	string(DetectorRemote),
}

type CascadeConfig struct {
	Path         string  `json:"path"`
	ScaleFactor  float64 `json:"scale_factor"`
	MinNeighbors int     `json:"min_neighbors"`
	MinSize      int     `json:"min_size"`
}

type RemoteConfig struct {
	Host string `json:"host"`
}

type Config struct {
	mu sync.RWMutex

	ActiveDetector DetectorMode `json:"active_detector"`
	DeviceIndex    int          `json:"device_index"`

	Cascade CascadeConfig `json:"cascade"`
	Remote  RemoteConfig  `json:"remote"`
}

func (c *Config) GetDeviceIndex() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DeviceIndex
}

func (c *Config) SetDeviceIndex(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DeviceIndex = idx
}

func (c *Config) GetCascadePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Cascade.Path
}

func (c *Config) SetCascadePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Cascade.Path = path
}

func (c *Config) GetScaleFactor() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Cascade.ScaleFactor
}

func (c *Config) SetScaleFactor(f float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Cascade.ScaleFactor = f
}

func (c *Config) GetMinNeighbors() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Cascade.MinNeighbors
}

func (c *Config) SetMinNeighbors(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Cascade.MinNeighbors = n
}

func (c *Config) GetMinSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Cascade.MinSize
}

func (c *Config) SetMinSize(s int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Cascade.MinSize = s
}

// Validate clamps detection parameters to usable ranges.
func (c *Config) Validate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Cascade.ScaleFactor <= 1.0 {
		c.Cascade.ScaleFactor = 1.1
	}
	if c.Cascade.MinNeighbors <= 0 {
		c.Cascade.MinNeighbors = 3
	}
	if c.Cascade.MinSize <= 0 {
		c.Cascade.MinSize = 30
	}
	if c.DeviceIndex < 0 {
		c.DeviceIndex = 0
	}
	if c.ActiveDetector != DetectorRemote {
		c.ActiveDetector = DetectorCascade
	}
}

func (c *Config) Save(path string) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)

	if err != nil {
		return
	}

	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	err = enc.Encode(c)

	if err != nil {
		return
	}
}

func (c *Config) SaveByDefault() {
	c.Save(DefaultConfigPath)
}

func LoadConfigFile(path string) *Config {
	var cfg *Config = NewDefaultConfig()

	if _, err := os.Stat(path); err == nil {
		f, err := os.Open(path)

		if err != nil {
			return cfg
		}

		defer f.Close()

		dec := json.NewDecoder(f)
		err = dec.Decode(cfg)

		if err != nil {
			return cfg
		}
	}

	cfg.Validate()

	return cfg
}

func NewDefaultConfig() *Config {
	return &Config{
		ActiveDetector: DetectorCascade,
		DeviceIndex:    0,
		Cascade: CascadeConfig{
			Path:         "",
			ScaleFactor:  1.1,
			MinNeighbors: 3,
			MinSize:      30,
		},
		Remote: RemoteConfig{Host: DefaultRemoteHost},
	}
}
