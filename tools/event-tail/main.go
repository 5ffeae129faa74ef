// event-tail follows a Kafka topic and prints each event with its outbox
// headers, for checking what the dispatchers actually published.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/clipdeck/clipdeck/libs/kafkax"
	"github.com/clipdeck/clipdeck/libs/runtime"
	"github.com/segmentio/kafka-go"
)

func main() {
	var (
		brokers = flag.String("brokers", runtime.Getenv("KAFKA_BROKERS", "localhost:9092"), "comma-separated kafka brokers")
		topic   = flag.String("topic", runtime.Getenv("TOPIC", "channel.created.v1"), "topic to tail")
		group   = flag.String("group", runtime.Getenv("GROUP_ID", ""), "optional consumer group (empty tails from the end without committing)")
		raw     = flag.Bool("raw", false, "print payloads verbatim instead of compact json")
	)
	flag.Parse()

	if strings.TrimSpace(*topic) == "" {
		fatal("TOPIC is required")
	}

	cfg := kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(*brokers),
		Topic:    *topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	if strings.TrimSpace(*group) != "" {
		cfg.GroupID = *group
	} else {
		cfg.StartOffset = kafka.LastOffset
	}
	reader := kafka.NewReader(cfg)
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "tailing %s on %s\n", *topic, *brokers)
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fatal(err.Error())
		}

		meta := kafkax.ExtractEventMeta(msg)
		correlationID := kafkax.HeaderValue(msg.Headers, "correlation_id")
		payload := string(msg.Value)
		if !*raw {
			var buf map[string]any
			if json.Unmarshal(msg.Value, &buf) == nil {
				if compact, err := json.Marshal(buf); err == nil {
					payload = string(compact)
				}
			}
		}
		fmt.Printf("%s partition=%d offset=%d event_id=%s correlation_id=%s key=%s %s\n",
			msg.Time.UTC().Format(time.RFC3339),
			msg.Partition, msg.Offset,
			meta.EventID, correlationID,
			string(msg.Key), payload)
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, "error: "+msg)
	os.Exit(1)
}
