package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Config is the on-disk JSON configuration for sshmux-client, loaded the
// way xtaci/kcptun's client/config_test.go exercises parseJSONConfig: a
// flat struct decoded straight from a JSON file, overridden field-by-field
// by whichever CLI flags were actually passed.
type Config struct {
	RemoteAddr string `json:"remoteaddr"`
	Secret     string `json:"secret"`
	Command    string `json:"command"`
	Term       string `json:"term"`
	PTY        bool   `json:"pty"`
	SocksAddr  string `json:"socksaddr"`
	Debug      bool   `json:"debug"`
}

func parseJSONConfig(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open config")
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return errors.Wrap(err, "decode config")
	}
	return nil
}
