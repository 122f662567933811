package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"muc-connection-manager/internal/config"
	"muc-connection-manager/internal/jabber"

	"github.com/eleksir/go-xmpp"
	log "github.com/sirupsen/logrus"
)

// main - фактичеcки, начало и основное тело программы.
func main() {
	log.SetFormatter(&log.TextFormatter{ //nolint:exhaustruct
		DisableQuote:           true,
		DisableLevelTruncation: false,
		DisableColors:          true,
		FullTimestamp:          true,
		TimestampFormat:        "2006-01-02 15:04:05",
	})

	locations, err := config.Locations()

	if err != nil {
		log.Error(err)

		os.Exit(1)
	}

	c, _, err := config.Load(locations)

	if err != nil {
		log.Errorf("Unable to load config from %v: %s", locations, err)

		os.Exit(1)
	}

	// no panic
	switch c.Loglevel {
	case "fatal":
		log.SetLevel(log.FatalLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "trace":
		log.SetLevel(log.TraceLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}

	// Откроем лог и скормим его логгеру.
	if c.Log != "" {
		logfile, err := os.OpenFile(c.Log, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644) //nolint:gosec

		if err != nil {
			log.Fatalf("Unable to open log file %s: %s", c.Log, err)
		}

		log.SetOutput(logfile)
	}

	myLogLevel := log.GetLevel()
	log.Warnf("Loglevel set to %v", myLogLevel)

	// github.com/eleksir/go-xmpp пишет в stdio, нам этого не надо, ловим выхлоп его в logrus с уровнем trace.
	xmpp.DebugWriter = log.WithFields(log.Fields{"logger": "stdlib"}).WriterLevel(log.TraceLevel)

	m := jabber.New(c)

	// Хэндлер сигналов не надо трогать, он нужен для завершения программы целиком.
	go m.SigHandler()
	signal.Notify(m.SigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	// На каждой серьёзной ошибке, например, сетевой, соединение и все его комнаты умирают. Здесь мы это ловим и
	// подключаемся заново, с чистого листа, но уже с распарсенным конфигом.
	for !m.Shutdown.Load() {
		m.Options = &xmpp.Options{ //nolint:exhaustruct
			Host:     fmt.Sprintf("%s:%d", c.Jabber.Server, c.Jabber.Port),
			User:     c.Jabber.User,
			Password: c.Jabber.Password,
			Resource: c.Jabber.Resource,
			NoTLS:    !c.Jabber.Ssl,
			StartTLS: c.Jabber.StartTLS,
			TLSConfig: &tls.Config{ //nolint:exhaustruct
				ServerName:         c.Jabber.Server,
				InsecureSkipVerify: !c.Jabber.SslVerify, //nolint:gosec
			},
			InsecureAllowUnencryptedAuth: c.Jabber.InsecureAllowUnencryptedAuth,
			Debug:                        myLogLevel == log.TraceLevel,
			Session:                      false,
			DialTimeout:                  config.Seconds(c.Jabber.ConnectionTimeout),
		}

		// Логгируем причину, по которой умерло соединение.
		if err := m.Connect(); err != nil {
			log.Error(err)
		}

		if m.Shutdown.Load() {
			break
		}

		log.Infof("Reconnecting in %d seconds", c.Jabber.ReconnectDelay)
		time.Sleep(config.Seconds(c.Jabber.ReconnectDelay))
	}
}

/* vim: set ft=go noet ai ts=4 sw=4 sts=4: */
