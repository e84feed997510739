// Package stoneconfig holds the tunables shared across the pf, hf and
// am layers and loads them from YAML, in the style tinySQL uses for
// its own engine configuration.
package stoneconfig

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config collects the engine-wide constants from spec §6.
type Config struct {
	PageSize      uint32 `yaml:"page_size"`
	MaxBufs       int    `yaml:"max_bufs"`
	FtabSize      int    `yaml:"ftab_size"`
	MaxScans      int    `yaml:"max_scans"`
	HashTableSize int    `yaml:"hash_table_size"`
	MaxAttrLen    int    `yaml:"max_attr_len"`
}

// Default returns the engine's documented defaults:
// (P, MAX_BUFS, FTAB_SIZE, MAXSCANS, MAX_ATTR_LEN) = (4096, 40, 20, 20, 256).
func Default() Config {
	c := Config{
		PageSize:   4096,
		MaxBufs:    40,
		FtabSize:   20,
		MaxScans:   20,
		MaxAttrLen: 256,
	}
	c.HashTableSize = nextPrime(c.MaxBufs)
	return c
}

// Load reads a YAML config file, filling any field left at its zero
// value with the engine default.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	overlay := Config{}
	if err := yaml.Unmarshal(b, &overlay); err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}
	if overlay.PageSize != 0 {
		cfg.PageSize = overlay.PageSize
	}
	if overlay.MaxBufs != 0 {
		cfg.MaxBufs = overlay.MaxBufs
	}
	if overlay.FtabSize != 0 {
		cfg.FtabSize = overlay.FtabSize
	}
	if overlay.MaxScans != 0 {
		cfg.MaxScans = overlay.MaxScans
	}
	if overlay.MaxAttrLen != 0 {
		cfg.MaxAttrLen = overlay.MaxAttrLen
	}
	if overlay.HashTableSize != 0 {
		cfg.HashTableSize = overlay.HashTableSize
	} else {
		cfg.HashTableSize = nextPrime(cfg.MaxBufs)
	}
	return cfg, nil
}

func nextPrime(n int) int {
	if n < 2 {
		return 2
	}
	for {
		if isPrime(n) {
			return n
		}
		n++
	}
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	for i := 2; i*i <= n; i++ {
		if n%i == 0 {
			return false
		}
	}
	return true
}
