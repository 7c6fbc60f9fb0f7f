package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/audiodock/pkg/logger"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" json:"server"`
	Download DownloadConfig `mapstructure:"download" json:"download"`
	Engine   EngineConfig   `mapstructure:"engine" json:"engine"`
	Notify   NotifyConfig   `mapstructure:"notify" json:"notify"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" json:"port"`
}

// DownloadConfig is the flat settings object the UI edits: where files land
// and what the transcoder produces by default.
type DownloadConfig struct {
	// OutputDir: directory the produced audio files are written to
	OutputDir string `mapstructure:"output_dir" json:"output_dir"`
	// Format: "mp3", "m4a", "flac" or "wav"
	Format string `mapstructure:"format" json:"format"`
	// Bitrate: target kbps, one of 320/256/192/128/96
	Bitrate int `mapstructure:"bitrate" json:"bitrate"`
	// OutputTemplate: yt-dlp output template relative to OutputDir
	OutputTemplate string `mapstructure:"output_template" json:"output_template"`
}

type EngineConfig struct {
	// Provider: search provider for free-text queries, "soundcloud" or "youtube"
	Provider string `mapstructure:"provider" json:"provider"`
	// SocketTimeoutSeconds: forwarded to yt-dlp --socket-timeout
	SocketTimeoutSeconds int `mapstructure:"socket_timeout_seconds" json:"socket_timeout_seconds"`
	// Retries: forwarded to yt-dlp --retries
	Retries int `mapstructure:"retries" json:"retries"`
	// SearchRateRPM: resolve calls per minute (0 = no limit)
	SearchRateRPM int `mapstructure:"search_rate_rpm" json:"search_rate_rpm"`
	// EmbedThumbnail: let yt-dlp embed the track thumbnail as cover art
	EmbedThumbnail bool `mapstructure:"embed_thumbnail" json:"embed_thumbnail"`
}

type NotifyConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	BaseURL string `mapstructure:"base_url" json:"base_url"` // Apprise API URL
	Key     string `mapstructure:"key" json:"key"`           // Apprise config key
	Tag     string `mapstructure:"tag" json:"tag"`           // Tag to filter services
}

var (
	supportedFormats  = []string{"mp3", "m4a", "flac", "wav"}
	supportedBitrates = []int{320, 256, 192, 128, 96}
	supportedProvider = []string{"soundcloud", "youtube"}
)

// Validate checks the download settings against the values the engine accepts.
func (c DownloadConfig) Validate() error {
	if !contains(supportedFormats, c.Format) {
		return fmt.Errorf("unsupported format %q (want one of %v)", c.Format, supportedFormats)
	}
	if !containsInt(supportedBitrates, c.Bitrate) {
		return fmt.Errorf("unsupported bitrate %d (want one of %v)", c.Bitrate, supportedBitrates)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir must not be empty")
	}
	if c.OutputTemplate == "" {
		return fmt.Errorf("output_template must not be empty")
	}
	return nil
}

// Validate checks the engine settings.
func (c EngineConfig) Validate() error {
	if !contains(supportedProvider, c.Provider) {
		return fmt.Errorf("unsupported provider %q (want one of %v)", c.Provider, supportedProvider)
	}
	if c.SocketTimeoutSeconds < 0 {
		return fmt.Errorf("socket_timeout_seconds must not be negative")
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, n := range list {
		if n == v {
			return true
		}
	}
	return false
}

func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	v.SetDefault("server.port", 8080)
	v.SetDefault("download.output_dir", filepath.Join(home, "Downloads", "audiodock"))
	v.SetDefault("download.format", "mp3")
	v.SetDefault("download.bitrate", 192)
	v.SetDefault("download.output_template", "%(artist)s - %(title).100s.%(ext)s")
	v.SetDefault("engine.provider", "soundcloud")
	v.SetDefault("engine.socket_timeout_seconds", 30)
	v.SetDefault("engine.retries", 3)
	v.SetDefault("engine.search_rate_rpm", 0)
	v.SetDefault("engine.embed_thumbnail", true)
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.tag", "all")
}

// ChangeCallback is called when config changes.
type ChangeCallback func(old, new *Config)

// Manager handles config loading, saving and hot-reload.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	cfg       *Config
	callbacks []ChangeCallback
	stop      chan struct{}
	stopOnce  sync.Once

	path        string
	lastModTime time.Time
}

// NewManager creates a config manager with hot-reload support via polling.
// A missing config file is not an error: defaults apply and the file is
// created on the first Save.
func NewManager(path string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("AUDIODOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			return nil, err
		}
		logger.Infof("📋 No config file at %s, using defaults", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Download.Validate(); err != nil {
		return nil, fmt.Errorf("download settings: %w", err)
	}
	if err := cfg.Engine.Validate(); err != nil {
		return nil, fmt.Errorf("engine settings: %w", err)
	}

	var lastMod time.Time
	if stat, err := os.Stat(path); err == nil {
		lastMod = stat.ModTime()
	}

	m := &Manager{
		v:           v,
		cfg:         &cfg,
		stop:        make(chan struct{}),
		path:        path,
		lastModTime: lastMod,
	}

	go m.pollForChanges(10 * time.Second)

	return m, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) OnChange(cb ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// UpdateDownload replaces the download settings and persists them to disk.
func (m *Manager) UpdateDownload(dl DownloadConfig) error {
	if err := dl.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	old := m.cfg
	next := *old
	next.Download = dl
	m.cfg = &next

	m.v.Set("download.output_dir", dl.OutputDir)
	m.v.Set("download.format", dl.Format)
	m.v.Set("download.bitrate", dl.Bitrate)
	m.v.Set("download.output_template", dl.OutputTemplate)
	callbacks := m.callbacks
	m.mu.Unlock()

	if err := m.save(); err != nil {
		return err
	}

	for _, cb := range callbacks {
		cb(old, &next)
	}
	return nil
}

func (m *Manager) save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := m.v.WriteConfigAs(m.path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	// Our own write should not trigger a hot-reload cycle.
	m.mu.Lock()
	if stat, err := os.Stat(m.path); err == nil {
		m.lastModTime = stat.ModTime()
	}
	m.mu.Unlock()

	logger.Infof("💾 Settings saved: %s", m.path)
	return nil
}

func (m *Manager) pollForChanges(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			stat, err := os.Stat(m.path)
			if err != nil {
				continue
			}

			m.mu.RLock()
			lastMod := m.lastModTime
			m.mu.RUnlock()

			if stat.ModTime().After(lastMod) {
				logger.Infof("🔄 Config file changed, reloading...")

				if err := m.v.ReadInConfig(); err != nil {
					logger.Errorf("❌ Failed to re-read config: %v", err)
					continue
				}

				m.mu.Lock()
				m.lastModTime = stat.ModTime()
				m.mu.Unlock()

				m.reload()
			}
		}
	}
}

func (m *Manager) reload() {
	var newCfg Config
	if err := m.v.Unmarshal(&newCfg); err != nil {
		logger.Errorf("❌ Failed to reload config: %v", err)
		return
	}
	if err := newCfg.Download.Validate(); err != nil {
		logger.Errorf("❌ Reloaded config rejected: %v", err)
		return
	}

	m.mu.Lock()
	oldCfg := m.cfg
	m.cfg = &newCfg
	callbacks := m.callbacks
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(oldCfg, &newCfg)
	}
}
