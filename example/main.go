package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Gurux/gxcommon-go"
	"github.com/octosock/octosock-go/rtsp"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

var (
	u    = flag.String("u", "", "Stream URL, e.g. rtsp://192.168.1.10/?freq=11362&msys=dvbs")
	name = flag.String("n", "tuner", "Session name used in diagnostics.")
	t    = flag.String("t", "", "Trace level.")
	d    = flag.Duration("d", 10*time.Second, "How long to receive.")
	lang = flag.String("lang", "", "Used language.")
)

func CurrentLanguage() language.Tag {
	langEnv := os.Getenv("LANG")
	if langEnv == "" {
		return language.AmericanEnglish
	}
	langEnv = strings.Split(langEnv, ".")[0]
	tag, err := language.Parse(langEnv)
	if err != nil {
		return language.AmericanEnglish
	}
	return tag
}

func main() {
	flag.Parse()
	if *u == "" {
		flag.PrintDefaults()
		return
	}

	log := logrus.New()

	session := rtsp.NewClient()
	if *lang != "" {
		tag, err := language.Parse(*lang)
		if err != nil {
			log.WithError(err).Fatal("parsing language")
		}
		session.Localize(tag)
	} else {
		session.Localize(CurrentLanguage())
	}

	session.SetOnError(func(err error) {
		log.WithError(err).Error("session error")
	})

	session.SetOnMediaStateChange(func(e gxcommon.MediaStateEventArgs) {
		log.WithField("state", e.State().String()).Info("media state change")
	})

	session.SetOnTrace(func(e gxcommon.TraceEventArgs) {
		log.Debug(e.String())
	})

	if *t != "" {
		tl, err := gxcommon.TraceLevelParse(*t)
		if err != nil {
			log.WithError(err).Fatal("parsing trace level")
		}
		if err := session.SetTrace(tl); err != nil {
			log.WithError(err).Fatal("setting trace level")
		}
		log.SetLevel(logrus.DebugLevel)
	}

	log.WithFields(logrus.Fields{
		"url":   *u,
		"name":  *name,
		"trace": session.GetTrace().String(),
	}).Info("opening session")

	if err := session.Open(*name, *u); err != nil {
		log.WithError(err).Fatal("open failed")
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.WithError(err).Error("close failed")
		}
	}()

	buf := make([]byte, 65536)
	deadline := time.Now().Add(*d)
	packets := 0
	for time.Now().Before(deadline) {
		if _, err := session.Read(buf); err != nil {
			log.WithError(err).Error("read failed")
			return
		}
		packets++

		if packets%100 == 1 {
			var status rtsp.SignalStatus
			if err := session.FillSignalStatus(&status); err != nil {
				log.WithError(err).Warn("signal status unavailable")
				continue
			}
			log.WithFields(logrus.Fields{
				"adapter": status.AdapterName,
				"status":  status.AdapterStatus,
				"signal":  fmt.Sprintf("%d/65535", status.Signal),
				"snr":     fmt.Sprintf("%d/65535", status.SNR),
			}).Info("tuner report")
		}
	}
	log.WithFields(logrus.Fields{
		"packets": packets,
		"bytes":   session.GetBytesReceived(),
	}).Info("done")
}
