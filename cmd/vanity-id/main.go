package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gosuda.org/curve/cryptoops"
)

// hit is one permanent key pair whose derived ID matched the requested
// prefix, along with the attempt count at which it was found.
type hit struct {
	id      string
	secret  [cryptoops.KeySize]byte
	public  [cryptoops.KeySize]byte
	attempt uint64
}

// miner coordinates a pool of workers all searching for the same prefix,
// tracking total attempts with a batched counter so workers don't contend
// on a single cache line every key pair generated.
type miner struct {
	prefix   string
	attempts atomic.Uint64
	hits     atomic.Uint64
}

// reportEvery bounds how many key pairs a worker generates before folding
// its local tally into the shared counter.
const reportEvery = 2048

func main() {
	prefix := flag.String("prefix", "CURVE", "ID prefix to search for")
	workerCount := flag.Int("workers", runtime.NumCPU(), "number of parallel workers")
	limit := flag.Int("max", 1, "stop after this many hits (0 = run until interrupted)")
	flag.Parse()

	m := &miner{prefix: strings.ToUpper(*prefix)}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	fmt.Printf("mining permanent-key IDs for prefix %q (%d chars) across %d workers\n",
		m.prefix, len(m.prefix), *workerCount)
	if *limit > 0 {
		fmt.Printf("expected attempts per hit: ~%.0f\n", expectedAttempts(len(m.prefix)))
	}

	hits := make(chan hit, *workerCount)
	var wg sync.WaitGroup
	workerCtx, stopWorkers := context.WithCancel(ctx)
	for i := 0; i < *workerCount; i++ {
		wg.Add(1)
		go m.mine(workerCtx, &wg, hits)
	}
	go func() {
		wg.Wait()
		close(hits)
	}()

	started := time.Now()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	found := 0
loop:
	for {
		select {
		case h, ok := <-hits:
			if !ok {
				break loop
			}
			found++
			elapsed := time.Since(started)
			fmt.Printf("\n[#%d] %s (attempt %d, %.1fs elapsed)\n", found, h.id, h.attempt, elapsed.Seconds())
			fmt.Printf("  secret: %s\n", base64.StdEncoding.EncodeToString(h.secret[:]))
			fmt.Printf("  public: %s\n", base64.StdEncoding.EncodeToString(h.public[:]))
			if *limit > 0 && found >= *limit {
				stopWorkers()
			}
		case <-ticker.C:
			printProgress(m, started, len(m.prefix), *limit)
		case <-ctx.Done():
			stopWorkers()
		}
	}

	fmt.Println()
	elapsed := time.Since(started)
	rate := float64(m.attempts.Load()) / elapsed.Seconds()
	fmt.Printf("total attempts: %d in %.1fs (%.0f/sec)\n", m.attempts.Load(), elapsed.Seconds(), rate)
}

// mine runs one worker: generate a fresh permanent key pair, derive its ID,
// and report a hit whenever the ID carries the requested prefix. Attempts
// are tallied locally and folded into m.attempts every reportEvery
// generations rather than on every iteration.
func (m *miner) mine(ctx context.Context, wg *sync.WaitGroup, hits chan<- hit) {
	defer wg.Done()

	var local uint64
	flush := func() {
		if local > 0 {
			m.attempts.Add(local)
			local = 0
		}
	}
	defer flush()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		kp, err := cryptoops.GenerateKeyPair()
		if err != nil {
			continue
		}
		local++
		if local >= reportEvery {
			flush()
		}

		id := cryptoops.DeriveID(kp.Public)
		if !strings.HasPrefix(id, m.prefix) {
			continue
		}

		m.hits.Add(1)
		flush()
		select {
		case hits <- hit{id: id, secret: kp.Secret, public: kp.Public, attempt: m.attempts.Load()}:
		case <-ctx.Done():
			return
		}
	}
}

// expectedAttempts is the average number of base32-alphabet draws (32
// symbols) needed to land a prefix of the given length.
func expectedAttempts(prefixLen int) float64 {
	return math.Pow(32, float64(prefixLen))
}

func printProgress(m *miner, started time.Time, prefixLen, limit int) {
	elapsed := time.Since(started)
	attempts := m.attempts.Load()
	hits := m.hits.Load()
	rate := float64(attempts) / elapsed.Seconds()

	eta := ""
	if limit > 0 && rate > 0 && uint64(limit) > hits {
		remaining := uint64(limit) - hits
		remainingAttempts := float64(remaining) * expectedAttempts(prefixLen)
		eta = formatETA(remainingAttempts / rate)
	}
	fmt.Printf("\r[%.0fs] attempts=%d hits=%d rate=%.0f/sec%s", elapsed.Seconds(), attempts, hits, rate, eta)
}

func formatETA(seconds float64) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf(" eta=%.0fs", seconds)
	case seconds < 3600:
		return fmt.Sprintf(" eta=%.1fm", seconds/60)
	default:
		return fmt.Sprintf(" eta=%.1fh", seconds/3600)
	}
}
