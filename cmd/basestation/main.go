// Command basestation runs the LoRa sensor network base station: it opens
// the radio (stub or serial-attached hardware), starts the gateway's
// RX/TX loops, registers the optional MQTT and alerting collaborators as
// observers, and serves the optional admin HTTP API. Grounded on the
// teacher's cmd/smacprint,
// adapted from a one-shot frame printer into a long-running daemon that
// wires the store, queue, and gateway together per configuration.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/lss-lora/basestation/alerting"
	"github.com/lss-lora/basestation/api"
	"github.com/lss-lora/basestation/gateway"
	"github.com/lss-lora/basestation/internal/config"
	"github.com/lss-lora/basestation/internal/metrics"
	"github.com/lss-lora/basestation/mqttpub"
	"github.com/lss-lora/basestation/queue"
	"github.com/lss-lora/basestation/radio"
	"github.com/lss-lora/basestation/store"
)

var (
	configDir = kingpin.Flag("config-dir", "Directory to search for basestation.yaml").Default(".").String()
	stub      = kingpin.Flag("stub", "Run against the in-memory stub radio instead of serial hardware").Bool()
	debug     = kingpin.Flag("debug", "Enable debug logging").Bool()
)

func main() {
	kingpin.Version("0.1")
	kingpin.Parse()

	log := logrus.StandardLogger()
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.WithError(err).Fatal("cannot load configuration")
	}

	var ts *store.Timeseries
	if cfg.Database.Path != "" {
		ts, err = store.OpenTimeseries(cfg.Database.Path)
		if err != nil {
			log.WithError(err).Fatal("cannot open timeseries database")
		}
		defer ts.Close()
	}

	st := store.New(store.Config{
		MaxNodes:         cfg.Store.MaxNodes,
		HistoryCap:       cfg.Store.HistoryCap,
		OfflineTimeout:   time.Duration(cfg.Store.OfflineTimeoutS) * time.Second,
		WatchdogInterval: time.Duration(cfg.Store.WatchdogPeriodS) * time.Second,
		Logger:           log,
		Timeseries:       ts,
	})
	defer st.Close()

	q := queue.New(queue.Config{
		RetryCount:   cfg.Queue.RetryCount,
		RetryTimeout: time.Duration(cfg.Queue.RetryTimeoutS) * time.Second,
		Logger:       log,
	})

	params := radio.Params{
		FrequencyMHz:    cfg.Radio.FrequencyMHz,
		SpreadingFactor: cfg.Radio.SpreadingFactor,
		BandwidthHz:     cfg.Radio.BandwidthHz,
		CodingRate:      cfg.Radio.CodingRate,
		TXPowerDBm:      cfg.Radio.TXPowerDBm,
		PreambleLen:     cfg.Radio.PreambleLen,
		NetworkID:       cfg.Radio.NetworkID,
	}

	var rad radio.Radio
	if *stub {
		rad = radio.NewStub(params)
		log.Info("radio: running in stub mode")
	} else {
		rad, err = radio.NewSerialTransport(cfg.Radio.DevicePath, uint(cfg.Radio.BaudRate), params, log)
		if err != nil {
			log.WithError(err).Fatal("cannot open serial radio transport")
		}
	}
	defer rad.Close()

	met := metrics.New()

	gw := gateway.New(gateway.Config{
		Radio:            rad,
		Store:            st,
		Queue:            q,
		ReceiveTimeout:   time.Duration(cfg.Gateway.ReceiveTimeoutMS) * time.Millisecond,
		TXInterval:       time.Duration(cfg.Gateway.TXIntervalMS) * time.Millisecond,
		TimeSyncInterval: time.Duration(cfg.Gateway.TimeSyncIntervalS) * time.Second,
		Logger:           log,
		Metrics:          met,
	})

	if cfg.MQTT.Enabled {
		pub := mqttpub.New(mqttpub.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Enabled:     true,
			Logger:      log,
		})
		defer pub.Close()
		gw.RegisterObserver(pub)
	}

	if cfg.Alerting.TeamsWebhookURL != "" || cfg.Alerting.SMTPHost != "" {
		alerter := alerting.New(alerting.Config{
			TeamsWebhookURL: cfg.Alerting.TeamsWebhookURL,
			SMTPHost:        cfg.Alerting.SMTPHost,
			SMTPPort:        cfg.Alerting.SMTPPort,
			SMTPUsername:    cfg.Alerting.SMTPUsername,
			SMTPPassword:    cfg.Alerting.SMTPPassword,
			SMTPFrom:        cfg.Alerting.SMTPFrom,
			SMTPTo:          cfg.Alerting.SMTPTo,
			RateLimit:       time.Duration(cfg.Alerting.RateLimitS) * time.Second,
			Logger:          log,
		})
		evaluator := alerting.NewEvaluator(alerter, uniformThresholds{cfg.Alerting.Thresholds}, log)
		gw.RegisterObserver(evaluator)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.API.Enabled {
		adm := api.New(st, q, rad, log)
		r := mux.NewRouter()
		adm.MountRoutes(r)
		r.Handle("/metrics", met.Handler())

		srv := &http.Server{Addr: cfg.API.ListenAddr, Handler: r}
		go func() {
			log.WithField("addr", cfg.API.ListenAddr).Info("admin api listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("admin api server stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	log.Info("base station starting")
	gw.Run(ctx)
	log.Info("base station stopped")
}

// uniformThresholds applies one set of alert thresholds to every
// non-reserved node. A real per-node threshold store is an external
// admin-config collaborator, out of scope here; this gives the evaluator
// something to check against without one.
type uniformThresholds struct {
	t alerting.Thresholds
}

func (u uniformThresholds) Thresholds(nodeID uint8) (alerting.Thresholds, bool) {
	if u.t == (alerting.Thresholds{}) {
		return alerting.Thresholds{}, false
	}
	return u.t, true
}
