// Command collector subscribes to trip messages over MQTT and writes them
// to the predictor's input directory as batch files.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"taxiflow/config"
	"taxiflow/ingest"
	"taxiflow/logger"
	"taxiflow/metrics"
	"taxiflow/tripdata"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	sink, err := logger.Init("collector", cfg.Log.Level, cfg.Log.Format, cfg.Log.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("init logger")
	}
	defer sink.Close()

	go func() {
		if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	batcher := ingest.NewBatcher(cfg.Batch.InputDir, cfg.Ingest.MaxRecords, tripdata.ZoneRange{
		Min: int64(cfg.Validation.MinLocationID),
		Max: int64(cfg.Validation.MaxLocationID),
	})
	flushDone := make(chan struct{})
	go func() {
		batcher.Run(ctx, cfg.Ingest.FlushInterval)
		close(flushDone)
	}()

	client := mqtt.NewClient(clientOptions(cfg.MQTT, batcher))
	token := client.Connect()
	token.Wait()
	if token.Error() != nil {
		log.Fatal().Err(token.Error()).Msg("mqtt connection failed")
	}

	log.Info().
		Str("mqtt", cfg.MQTT.URL).
		Str("topic", cfg.MQTT.Topic).
		Str("input_dir", cfg.Batch.InputDir).
		Int("max_records", cfg.Ingest.MaxRecords).
		Dur("flush_interval", cfg.Ingest.FlushInterval).
		Msg("collector running")

	<-ctx.Done()
	log.Info().Msg("collector shutting down")
	client.Disconnect(250)
	<-flushDone
}

func clientOptions(cfg config.MQTTConfig, batcher *ingest.Batcher) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID("taxiflow-collector-" + time.Now().Format("20060102150405"))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetDefaultPublishHandler(func(client mqtt.Client, message mqtt.Message) {
		handleMessage(batcher, message)
	})
	opts.OnConnect = func(client mqtt.Client) {
		token := client.Subscribe(cfg.Topic, 1, nil)
		token.Wait()
		if token.Error() != nil {
			log.Error().Err(token.Error()).Msg("mqtt subscribe error")
			return
		}
		log.Info().Str("topic", cfg.Topic).Msg("collector subscribed")
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost")
	}
	return opts
}

func handleMessage(batcher *ingest.Batcher, message mqtt.Message) {
	if err := batcher.Add(message.Payload()); err != nil {
		log.Warn().Err(err).Str("topic", message.Topic()).Msg("trip message dropped")
	}
}
