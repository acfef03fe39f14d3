package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/studio-presence/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	ip := flag.String("ip", "203.0.113.7", "ip to announce with join")
	location := flag.String("location", "", "optional location label")
	watch := flag.Bool("watch", false, "keep printing visitor lists until the timeout")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	join := proto.JoinData{IP: *ip}
	if *location != "" {
		join.Location = location
	}
	payload, err := json.Marshal(join)
	if err != nil {
		return fmt.Errorf("marshal join: %w", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeJoin, Data: payload}); err != nil {
		return fmt.Errorf("send join: %w", err)
	}

	for {
		var outbound struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  []proto.Visitor `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			if *watch && ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		if outbound.Error != nil {
			fmt.Printf("Error: %s %s\n", outbound.Error.Code, outbound.Error.Msg)
			continue
		}
		if outbound.Event != proto.EventVisitors {
			continue
		}

		fmt.Printf("Visitors (%d):\n", len(outbound.Data))
		seen := false
		for _, v := range outbound.Data {
			label := "-"
			if v.Location != nil {
				label = *v.Location
			}
			fmt.Printf("  %s  %s\n", v.IP, label)
			if v.IP == *ip {
				seen = true
			}
		}
		if seen && !*watch {
			return nil
		}
	}
}
