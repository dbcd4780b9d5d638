// Command shardgate-bench is an external smoke-test client: it speaks
// real RESP to a running shardgate instance through go-redis/v9,
// exercising the proxy the same way any downstream application would
// (the proxy's own router never imports go-redis itself; this binary
// is a client of it, grounded the same way the teacher's simple
// key comparator used go-redis as an off-the-shelf client rather than
// hand-rolling wire encoding).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("shardgate-bench", flag.ContinueOnError)
	var addr string
	var password string
	var keyPrefix string
	var n int
	fs.StringVar(&addr, "addr", "127.0.0.1:6380", "shardgate listen address")
	fs.StringVar(&password, "password", "", "AUTH password, if the cluster requires one")
	fs.StringVar(&keyPrefix, "prefix", "shardgate-bench", "key prefix used for scratch keys")
	fs.IntVar(&n, "pipeline", 100, "number of pipelined GETs to run in the pipeline scenario")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 1
	}

	log.SetFlags(0)
	log.SetPrefix("[shardgate-bench] ")

	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := smoke(ctx, client, keyPrefix, n); err != nil {
		log.Printf("FAILED: %v", err)
		return 1
	}
	log.Println("all scenarios passed")
	return 0
}

// smoke runs the literal scenarios spec.md §8 calls out: a plain
// single-key GET, a hash-tagged MGET that must be reassembled in
// original key order, a multi-key-value MSET, and a pipeline whose
// replies must come back in submission order.
func smoke(ctx context.Context, client *redis.Client, prefix string, pipelineN int) error {
	log.Println("PING")
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	singleKey := prefix + ":single"
	log.Printf("SET/GET %s", singleKey)
	if err := client.Set(ctx, singleKey, "bar", 0).Err(); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	got, err := client.Get(ctx, singleKey).Result()
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	if got != "bar" {
		return fmt.Errorf("get: expected %q, got %q", "bar", got)
	}

	log.Println("hash-tagged MGET reassembly")
	tag := prefix + ":{tag}"
	keys := []string{tag + ":a", tag + ":b", tag + ":c"}
	for i, k := range keys {
		if err := client.Set(ctx, k, fmt.Sprintf("v%d", i), 0).Err(); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("mget: %w", err)
	}
	for i, v := range values {
		want := fmt.Sprintf("v%d", i)
		if v != want {
			return fmt.Errorf("mget: position %d expected %q, got %v", i, want, v)
		}
	}

	log.Println("cross-slot MSET split+aggregate")
	msetKeys := []string{prefix + ":m1", prefix + ":m2", prefix + ":m3"}
	pairs := make([]interface{}, 0, len(msetKeys)*2)
	for i, k := range msetKeys {
		pairs = append(pairs, k, fmt.Sprintf("mv%d", i))
	}
	if err := client.MSet(ctx, pairs...).Err(); err != nil {
		return fmt.Errorf("mset: %w", err)
	}

	log.Printf("pipeline of %d GETs, order check", pipelineN)
	pipe := client.Pipeline()
	cmds := make([]*redis.StringCmd, pipelineN)
	for i := 0; i < pipelineN; i++ {
		cmds[i] = pipe.Get(ctx, singleKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec: %w", err)
	}
	for i, cmd := range cmds {
		if v, err := cmd.Result(); err != nil || v != "bar" {
			return fmt.Errorf("pipeline reply %d out of order or wrong: v=%q err=%v", i, v, err)
		}
	}

	return nil
}
