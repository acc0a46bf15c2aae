package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rexbrahh/irma-engine/intake"
	natsx "github.com/rexbrahh/irma-engine/sinks/nats"
)

// instruction is one fixture entry; Direction selects the intake subject.
type instruction struct {
	ID          string `json:"id"`
	Direction   string `json:"direction"`
	SleepMillis int    `json:"sleep_ms"`
	intake.Instruction
}

func main() {
	inputPath := flag.String("input", "fixtures/trade_sample.json", "path to instruction fixture (JSON)")
	natsURL := flag.String("nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	stream := flag.String("stream", "IRMA", "JetStream stream holding the instruction subjects")
	subjectRoot := flag.String("subject-root", "irma", "subject root for publishing")
	publishDelay := flag.Int("delay-ms", 0, "delay in milliseconds between instructions")
	flag.Parse()

	data, err := os.ReadFile(*inputPath)
	if err != nil {
		log.Fatalf("failed to read input: %v", err)
	}

	var instructions []instruction
	if err := json.Unmarshal(data, &instructions); err != nil {
		log.Fatalf("failed to decode fixture: %v", err)
	}

	cfg := natsx.DefaultConfig()
	cfg.URL, cfg.Stream, cfg.SubjectRoot = *natsURL, *stream, *subjectRoot

	nc, err := nats.Connect(cfg.URL, nats.Name("irma-tradereplay"))
	if err != nil {
		log.Fatalf("connect to nats: %v", err)
	}
	defer nc.Drain()

	js, err := nc.JetStream()
	if err != nil {
		log.Fatalf("jetstream context: %v", err)
	}
	if err := natsx.EnsureStream(js, cfg); err != nil {
		log.Fatalf("ensure stream: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for idx, in := range instructions {
		if ctx.Err() != nil {
			log.Fatalf("context cancelled before instruction %d", idx)
		}
		if err := publishInstruction(ctx, js, cfg, idx, in); err != nil {
			log.Fatalf("failed to publish instruction %d (%s %s): %v", idx, in.Direction, in.Symbol, err)
		}
		delay := in.SleepMillis
		if delay == 0 {
			delay = *publishDelay
		}
		if delay > 0 {
			time.Sleep(time.Duration(delay) * time.Millisecond)
		}
	}

	log.Printf("published %d instructions", len(instructions))
}

func publishInstruction(ctx context.Context, js nats.JetStreamContext, cfg natsx.Config, idx int, in instruction) error {
	switch in.Direction {
	case "sale", "buy":
	default:
		return fmt.Errorf("unsupported direction %q", in.Direction)
	}
	data, err := json.Marshal(in.Instruction)
	if err != nil {
		return err
	}
	msgID := in.ID
	if msgID == "" {
		msgID = fmt.Sprintf("replay:%d:%s:%s:%s", idx, in.Direction, in.Symbol, in.Amount)
	}

	subject := cfg.InstructionSubject(in.Direction)
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	msg.Header.Set("Nats-Msg-Id", msgID)
	msg.Header.Set("Content-Type", "application/json")
	if _, err := js.PublishMsgAsync(msg); err != nil {
		return err
	}
	select {
	case <-js.PublishAsyncComplete():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish context cancelled for subject %s", subject)
	case <-time.After(cfg.PublishTimeout):
		return fmt.Errorf("publish timeout for subject %s", subject)
	}
}
