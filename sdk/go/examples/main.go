// Command example sends one transcript to a running voiceswapd and prints the
// spoken replies.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"VoiceSwap/sdk/go/voiceswap"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8088", "voiceswapd base URL")
	flag.Parse()

	text := strings.Join(flag.Args(), " ")
	if text == "" {
		text = "check my gas tank"
	}

	client, err := voiceswap.NewClient(*addr, nil)
	if err != nil {
		log.Fatal(err)
	}
	client.SetAccessToken(os.Getenv("VOICESWAP_API_TOKEN"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := client.SendTranscript(ctx, text)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("action=%s state=%s\n", result.Intent.Action, result.State)
	for _, reply := range result.Replies {
		fmt.Println(reply)
	}
}
