// Package config holds the JSON file configuration: who this client is,
// where the signaling relay lives, and how the media engine is tuned.
package config

import (
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/vivyapp/callkit/internal/util"
)

type Config struct {
	Identity  Identity  `json:"identity"`
	Signaling Signaling `json:"signaling"`
	ICE       ICE       `json:"ice"`
	Media     Media     `json:"media"`
}

type Identity struct {
	// UserID is the identity the relay socket is scoped to and the value
	// inbound targetId filters match against.
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type Signaling struct {
	// RelayURL is the websocket endpoint of the signaling relay.
	RelayURL string `json:"relay_url"`

	// APIBase is the REST surface for placing calls.
	APIBase string `json:"api_base"`
}

type ICE struct {
	STUNURLs []string `json:"stun_urls"`

	// Timeouts in seconds. 0 = engine default.
	DisconnectedSec int `json:"disconnected_sec"`
	FailedSec       int `json:"failed_sec"`
	KeepAliveSec    int `json:"keepalive_sec"`
}

type Media struct {
	Video        bool   `json:"video"`
	Audio        bool   `json:"audio"`
	PreferredCam string `json:"preferred_cam"`
	PreferredMic string `json:"preferred_mic"`
}

func Default() Config {
	return Config{
		Signaling: Signaling{
			RelayURL: "ws://localhost:8787/ws",
			APIBase:  "http://localhost:8787",
		},
		ICE: ICE{
			STUNURLs:        []string{"stun:stun.l.google.com:19302"},
			DisconnectedSec: 5,
			FailedSec:       25,
			KeepAliveSec:    2,
		},
		Media: Media{
			Video: true,
			Audio: true,
		},
	}
}

func (c *Config) Validate() error {
	if _, err := util.ValidateUserID(c.Identity.UserID); err != nil {
		return errors.New("identity.user_id: " + err.Error())
	}

	if strings.TrimSpace(c.Signaling.RelayURL) == "" {
		return errors.New("signaling.relay_url is required")
	}
	u, err := url.Parse(c.Signaling.RelayURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return errors.New("signaling.relay_url must be a ws:// or wss:// URL")
	}
	if c.Signaling.APIBase != "" {
		a, err := url.Parse(c.Signaling.APIBase)
		if err != nil || (a.Scheme != "http" && a.Scheme != "https") {
			return errors.New("signaling.api_base must be an http(s) URL")
		}
	}

	for _, s := range c.ICE.STUNURLs {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "turn:") {
			return errors.New("ice.stun_urls entries must start with stun: or turn:")
		}
	}
	if c.ICE.DisconnectedSec < 0 || c.ICE.FailedSec < 0 || c.ICE.KeepAliveSec < 0 {
		return errors.New("ice timeouts must be >= 0")
	}
	if c.ICE.FailedSec > 0 && c.ICE.DisconnectedSec > c.ICE.FailedSec {
		return errors.New("ice.disconnected_sec must be <= ice.failed_sec")
	}

	if !c.Media.Video && !c.Media.Audio {
		return errors.New("media: at least one of video or audio must be enabled")
	}

	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads the config if the file exists; otherwise it writes the
// defaults (with the given user ID filled in) and returns them.
func Ensure(path, userID string) (Config, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}

	cfg := Default()
	cfg.Identity.UserID = userID
	if err := Save(path, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ResolveRelative makes path absolute against the directory holding the
// config file.
func ResolveRelative(cfgPath, path string) string {
	return util.ResolvePath(filepath.Dir(cfgPath), path)
}
