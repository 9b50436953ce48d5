package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/basedchess/pkg/chessdto"
)

// gamecheck probes a running server: health, then a websocket
// subscription to one game for a short window.
func main() {
	baseURL := strings.TrimRight(os.Getenv("BASEDCHESS_URL"), "/")
	if baseURL == "" {
		log.Fatal("BASEDCHESS_URL is required")
	}
	if len(os.Args) < 2 {
		log.Fatal("usage: gamecheck <displayID>")
	}
	gameID := os.Args[1]

	status, body, err := fasthttp.GetTimeout(nil, baseURL+"/health", 5*time.Second)
	if err != nil {
		log.Fatalf("/health error: %v", err)
	}
	log.Printf("/health status=%d body=%s", status, strings.TrimSpace(string(body)))

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/games/" + gameID + "/ws"
	dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	cancel()
	if err != nil {
		log.Fatalf("ws connect error: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, typ := range []string{chessdto.TypeGetGame, chessdto.TypeLiveViewers} {
		if err := wsjson.Write(ctx, conn, chessdto.Envelope{Type: typ}); err != nil {
			log.Fatalf("ws write %s: %v", typ, err)
		}
	}
	for {
		var env chessdto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			log.Printf("ws closed: %v", err)
			return
		}
		fmt.Printf("%s %s\n", env.Type, string(env.Data))
	}
}
