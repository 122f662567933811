// Package config читает конфиг менеджера в формате hjson.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hjson/hjson-go"
	log "github.com/sirupsen/logrus"
)

// Конфиг-файл больше этого размера считаем не конфигом.
const maxConfigSize = 2 * 1024 * 1024

var (
	ErrNotLoaded = errors.New("config was not loaded")
	ErrInvalid   = errors.New("invalid config")
)

// Channel - комната, в которую менеджер входит при старте.
type Channel struct {
	Name     string `json:"name,omitempty"`
	Nick     string `json:"nick,omitempty"`
	Password string `json:"password,omitempty"`

	// Subject - тема, которую выставить после входа. Пустая - не трогать.
	Subject string `json:"subject,omitempty"`

	// Config - свойства комнаты, которые выставить после входа (имена как в PropertiesChanged).
	Config map[string]interface{} `json:"config,omitempty"`
}

// MUC - параметры сессий комнат, в секундах.
type MUC struct {
	JoinTimeout              int64 `json:"join_timeout,omitempty"`
	LeaveTimeout             int64 `json:"leave_timeout,omitempty"`
	PollInterval             int64 `json:"poll_interval,omitempty"`
	PollIntervalLowBandwidth int64 `json:"poll_interval_low_bandwidth,omitempty"`
	MaxNickRetries           int   `json:"max_nick_retries,omitempty"`
}

// Jabber - параметры подключения.
type Jabber struct {
	Server                       string    `json:"server,omitempty"`
	Port                         int       `json:"port,omitempty"`
	Ssl                          bool      `json:"ssl,omitempty"`
	StartTLS                     bool      `json:"starttls,omitempty"`
	SslVerify                    bool      `json:"ssl_verify,omitempty"`
	InsecureAllowUnencryptedAuth bool      `json:"insecureallowunencryptedauth,omitempty"`
	ConnectionTimeout            int64     `json:"connection_timeout,omitempty"`
	ReconnectDelay               int64     `json:"reconnect_delay,omitempty"`
	ServerPingDelay              int64     `json:"server_ping_delay,omitempty"`
	PingSplayDelay               int64     `json:"ping_splay_delay,omitempty"`
	Nick                         string    `json:"nick,omitempty"`
	Resource                     string    `json:"resource,omitempty"`
	User                         string    `json:"user,omitempty"`
	Password                     string    `json:"password,omitempty"`
	LowBandwidth                 bool      `json:"low_bandwidth,omitempty"`
	MUC                          MUC       `json:"muc,omitempty"`
	Channels                     []Channel `json:"channels"`
}

// Config - конфиг целиком.
type Config struct {
	Jabber   Jabber `json:"jabber,omitempty"`
	Loglevel string `json:"loglevel,omitempty"`
	Log      string `json:"log,omitempty"`
}

// Locations возвращает места, где ищется конфиг, в порядке приоритета.
func Locations() ([]string, error) {
	executablePath, err := os.Executable()

	if err != nil {
		return nil, fmt.Errorf("unable to get current executable path: %w", err)
	}

	return []string{
		"~/.muc-connection-manager.json",
		"~/muc-connection-manager.json",
		"/etc/muc-connection-manager.json",
		filepath.Join(filepath.Dir(executablePath), "data", "config.json"),
	}, nil
}

// Load читает первый подходящий конфиг из locations. Кандидаты, которые не удалось прочитать или разобрать,
// пропускаются. Ошибка валидации найденного конфига фатальна.
func Load(locations []string) (*Config, string, error) {
	for _, location := range locations {
		path := expandHome(location)
		fileInfo, err := os.Stat(path)

		// Файла нет или он недоступен.
		if err != nil {
			continue
		}

		if fileInfo.Size() > maxConfigSize {
			log.Warnf("Config file %s is too long for config, skipping", path)

			continue
		}

		buf, err := os.ReadFile(path)

		if err != nil {
			log.Warnf("Skip reading config file %s: %s", path, err)

			continue
		}

		c, err := Parse(buf)

		if err != nil {
			log.Warnf("Skip parsing config file %s: %s", path, err)

			continue
		}

		if err := c.setDefaults(); err != nil {
			return nil, path, err
		}

		log.Infof("Using %s as config file", path)

		return c, path, nil
	}

	return nil, "", ErrNotLoaded
}

// Parse разбирает hjson. hjson отдаёт map-ку, поэтому её сериализуем в json и уже json разбираем в структуру.
func Parse(buf []byte) (*Config, error) {
	var tmp map[string]interface{}

	if err := hjson.Unmarshal(buf, &tmp); err != nil {
		return nil, fmt.Errorf("unable to parse hjson: %w", err)
	}

	tmpJSON, err := json.Marshal(tmp)

	if err != nil {
		return nil, fmt.Errorf("unable to convert config to json: %w", err)
	}

	var c Config

	if err := json.Unmarshal(tmpJSON, &c); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &c, nil
}

// setDefaults проверяет конфиг и выставляет значения по умолчанию.
func (c *Config) setDefaults() error { //nolint:gocognit,gocyclo
	j := &c.Jabber

	if j.Server == "" {
		log.Error("Jabber server is not defined in config, using localhost")

		j.Server = "localhost"
	}

	if j.Port == 0 {
		j.Port = 5222

		if j.Ssl && !j.StartTLS {
			j.Port = 5223
		}

		log.Infof("Jabber port is not defined in config, using %d", j.Port)
	}

	if !j.Ssl {
		j.StartTLS = false
		j.SslVerify = false
	}

	setDefault(&j.ConnectionTimeout, 10, "connection_timeout")
	setDefault(&j.ReconnectDelay, 3, "reconnect_delay")
	setDefault(&j.ServerPingDelay, 60, "server_ping_delay")
	setDefault(&j.PingSplayDelay, 3, "ping_splay_delay")
	setDefault(&j.MUC.JoinTimeout, 60, "muc.join_timeout")
	setDefault(&j.MUC.LeaveTimeout, 5, "muc.leave_timeout")
	setDefault(&j.MUC.PollInterval, 300, "muc.poll_interval")
	setDefault(&j.MUC.PollIntervalLowBandwidth, 1800, "muc.poll_interval_low_bandwidth")

	if j.MUC.MaxNickRetries <= 0 {
		j.MUC.MaxNickRetries = 3
	}

	if j.Nick == "" {
		return fmt.Errorf("%w: jabber nick is not defined", ErrInvalid)
	}

	if j.Resource == "" {
		j.Resource = "muc-connection-manager"

		log.Infof("Jabber resource not defined in config, using %s", j.Resource)
	}

	if j.User == "" {
		j.User = fmt.Sprintf("%s@%s", j.Nick, j.Server)

		log.Infof("Jabber user not defined in config, guessing, it can be %s", j.User)
	}

	if len(j.Channels) == 0 {
		return fmt.Errorf("%w: no jabber channels/rooms defined", ErrInvalid)
	}

	for n := range j.Channels {
		ch := &j.Channels[n]

		if ch.Name == "" {
			return fmt.Errorf("%w: no \"name\" entry in jabber channel #%d", ErrInvalid, n)
		}

		if ch.Nick == "" {
			ch.Nick = j.Nick
		}
	}

	switch c.Loglevel {
	case "fatal", "error", "warn", "info", "debug", "trace":
	case "":
		c.Loglevel = "info"

		log.Info("loglevel not defined in config, using info")
	default:
		return fmt.Errorf("%w: unknown loglevel %q", ErrInvalid, c.Loglevel)
	}

	return nil
}

func setDefault(v *int64, def int64, name string) {
	if *v > 0 {
		return
	}

	*v = def

	log.Debugf("Jabber %s not defined in config, using %d seconds", name, def)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()

	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}

// Seconds переводит секунды из конфига в time.Duration.
func Seconds(v int64) time.Duration {
	return time.Duration(v) * time.Second
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
