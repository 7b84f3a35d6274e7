// Package config loads the daemon's JSON configuration file into a
// typed Config tree. Key matching is case-insensitive, the way aos
// configuration files are traditionally written with whichever
// capitalization a given product's deployment tooling prefers.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Mode selects provisioning vs normal operation.
type Mode int

const (
	ModeNormal Mode = iota
	ModeProvisioning
)

// VChanConfig carries the Xen virtual-channel parameters: the peer
// domain, the xenstore ring paths, and the certificate slots used by
// the mTLS sessions on the two secure ports.
type VChanConfig struct {
	Domain         int    `json:"domain"`
	XSRXPath       string `json:"xsrxPath"`
	XSTXPath       string `json:"xstxPath"`
	IAMCertStorage string `json:"iamCertStorage"`
	SMCertStorage  string `json:"smCertStorage"`
}

// IAMConfig describes the IAM control-plane endpoints and the two mux
// ports carrying IAM traffic.
type IAMConfig struct {
	PublicServerURL    string `json:"iamPublicServerURL"`
	ProtectedServerURL string `json:"iamProtectedServerURL"`
	CertStorage        string `json:"certStorage"`
	OpenPort           uint32 `json:"openPort"`
	SecurePort         uint32 `json:"securePort"`
}

// CMConfig describes the CM control-plane endpoint and the two mux
// ports carrying CM traffic.
type CMConfig struct {
	ServerURL  string `json:"cmServerURL"`
	OpenPort   uint32 `json:"openPort"`
	SecurePort uint32 `json:"securePort"`
}

// DownloadConfig tunes the image downloader's retry behavior.
type DownloadConfig struct {
	DownloadDir            string       `json:"downloadDir"`
	MaxConcurrentDownloads int          `json:"maxConcurrentDownloads"`
	RetryDelay             jsonDuration `json:"retryDelay"`
	MaxRetryDelay          jsonDuration `json:"maxRetryDelay"`
}

// Config is the top-level configuration tree.
type Config struct {
	WorkingDir    string         `json:"workingDir"`
	VChan         VChanConfig    `json:"vChan"`
	CMConfig      CMConfig       `json:"cmConfig"`
	CertStorage   string         `json:"certStorage"`
	CACert        string         `json:"caCert"`
	ImageStoreDir string         `json:"imageStoreDir"`
	Download      DownloadConfig `json:"downloader"`
	IAMConfig     IAMConfig      `json:"iamConfig"`
}

// jsonDuration unmarshals either a JSON number of seconds or a
// duration string ("3s", "1m30s") into a time.Duration.
type jsonDuration time.Duration

func (d *jsonDuration) UnmarshalJSON(b []byte) error {
	var asString string
	if err := json.Unmarshal(b, &asString); err == nil {
		parsed, err := time.ParseDuration(asString)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", asString, err)
		}
		*d = jsonDuration(parsed)
		return nil
	}
	var asSeconds float64
	if err := json.Unmarshal(b, &asSeconds); err != nil {
		return fmt.Errorf("config: invalid duration value: %w", err)
	}
	*d = jsonDuration(asSeconds * float64(time.Second))
	return nil
}

func (d jsonDuration) Duration() time.Duration { return time.Duration(d) }

// Load reads and parses the JSON config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes raw JSON bytes into a Config, matching object keys to
// struct fields case-insensitively.
func Parse(raw []byte) (*Config, error) {
	folded, err := foldKeys(raw)
	if err != nil {
		return nil, fmt.Errorf("config: normalizing keys: %w", err)
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(folded))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	if cfg.WorkingDir == "" {
		return nil, fmt.Errorf("config: workingDir is required")
	}
	return &cfg, nil
}

// foldKeys rewrites every object key in raw to match the case of the
// corresponding struct tag used above, so a deployment's config file
// may spell keys in whatever case convention it prefers. Unknown keys
// are passed through unchanged so DisallowUnknownFields can still
// reject genuine typos.
func foldKeys(raw []byte) ([]byte, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	folded := foldValue(generic)
	return json.Marshal(folded)
}

var knownKeys = buildKnownKeys()

func buildKnownKeys() map[string]string {
	m := map[string]string{}
	add := func(tags ...string) {
		for _, tag := range tags {
			m[lower(tag)] = tag
		}
	}
	add("workingDir", "vChan", "cmConfig", "certStorage", "caCert", "imageStoreDir", "downloader", "iamConfig")
	add("domain", "xsrxPath", "xstxPath", "iamCertStorage", "smCertStorage")
	add("iamPublicServerURL", "iamProtectedServerURL", "openPort", "securePort")
	add("cmServerURL")
	add("downloadDir", "maxConcurrentDownloads", "retryDelay", "maxRetryDelay")
	return m
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c - 'A' + 'a'
		}
	}
	return string(b)
}

func foldValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(vv))
		for k, val := range vv {
			key := k
			if canonical, ok := knownKeys[lower(k)]; ok {
				key = canonical
			}
			out[key] = foldValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, e := range vv {
			out[i] = foldValue(e)
		}
		return out
	default:
		return v
	}
}
