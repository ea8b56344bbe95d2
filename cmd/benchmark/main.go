package main

import (
	"context"
	"fmt"
	"log"
	"time"

	mqtt "github.com/golang-io/vibemq"
	"github.com/golang-io/vibemq/packet"
	"golang.org/x/sync/errgroup"
)

const clientCount = 100

func main() {
	group, ctx := errgroup.WithContext(context.Background())

	for i := 0; i < clientCount; i++ {
		i := i
		c := mqtt.New(
			mqtt.URL("mqtt://127.0.0.1:1883"),
			mqtt.Subscription(
				packet.Subscription{TopicFilter: "+"},
				packet.Subscription{TopicFilter: "a/b/c"},
			),
		)
		c.OnMessage(func(msg *packet.Message) {
			log.Printf("id=%s, topic=%s, size=%d", c.ID(), msg.TopicName, len(msg.Content))
		})

		group.Go(func() error {
			timer := time.NewTimer(time.Second)
			defer timer.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-timer.C:
					if err := c.SubmitMessage(&packet.Message{
						TopicName: fmt.Sprintf("topic-%d", i),
						Content:   []byte("hello world"),
					}); err != nil {
						log.Printf("publish error: id=%d, err=%v", i, err)
					}
					timer.Reset(time.Second)
				}
			}
		})

		group.Go(func() error {
			return c.ConnectAndSubscribe(ctx)
		})
	}

	if err := group.Wait(); err != nil {
		log.Fatal(err)
	}
}
