package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/scene-collab-engine/internal/document"
	"github.com/example/scene-collab-engine/internal/transport"
	"github.com/example/scene-collab-engine/internal/types"
)

type latencySample struct {
	dur time.Duration
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "relay base url to target")
	scene := flag.String("scene", "scene-loadtest", "scene id used by all clients")
	project := flag.String("project", "project-loadtest", "project id used by all clients")
	clients := flag.Int("clients", 100, "number of concurrent room members")
	edits := flag.Int("edits", 20, "number of edits the writer makes")
	interval := flag.Duration("interval", 200*time.Millisecond, "delay between edits")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	room := types.DeriveRoomID("", types.ProjectID(*project), types.SceneID(*scene))
	logger := log.With().Str("room", string(room)).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// lastEdit is read by every reader listener to compute propagation
	// latency; the writer stores the wall clock just before each edit.
	var lastEdit atomic.Int64

	latencyCh := make(chan latencySample, *clients**edits)
	var wg sync.WaitGroup

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			doc, err := document.New()
			if err != nil {
				logger.Error().Err(err).Int("client", id).Msg("document create failed")
				return
			}
			defer doc.Destroy()

			if id != 0 {
				doc.Subscribe(func(_ []byte, remote bool) {
					if !remote {
						return
					}
					if sent := lastEdit.Load(); sent > 0 {
						latencyCh <- latencySample{dur: time.Since(time.Unix(0, sent))}
					}
				})
			}

			conn, err := transport.Dial(ctx, *addr, room, doc, transport.Hooks{}, logger)
			if err != nil {
				logger.Error().Err(err).Int("client", id).Msg("dial failed")
				return
			}
			defer conn.Destroy()

			if err := conn.SetLocalState(types.UserInfo{
				Name:  fmt.Sprintf("client-%d", id),
				Color: types.RandomColor(),
			}); err != nil {
				logger.Warn().Err(err).Int("client", id).Msg("presence announce failed")
			}

			if id == 0 {
				ticker := time.NewTicker(*interval)
				defer ticker.Stop()
				for j := 0; j < *edits; j++ {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						lastEdit.Store(time.Now().UnixNano())
						line := fmt.Sprintf("edit %d at %s\n", j, time.Now().UTC().Format(time.RFC3339Nano))
						if err := doc.InsertText(0, line); err != nil {
							logger.Error().Err(err).Msg("edit failed")
							return
						}
					}
				}
				// Give readers a moment to drain before tearing down.
				time.Sleep(2 * *interval)
				stop()
			} else {
				<-ctx.Done()
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(latencyCh)
	}()

	<-ctx.Done()
	report(latencyCh, logger)
}

func report(samples <-chan latencySample, logger zerolog.Logger) {
	var count int
	var total time.Duration
	var max time.Duration
	var under50ms int

	for {
		select {
		case s, ok := <-samples:
			if !ok {
				summarize(count, total, max, under50ms, logger)
				return
			}
			count++
			total += s.dur
			if s.dur > max {
				max = s.dur
			}
			if s.dur < 50*time.Millisecond {
				under50ms++
			}
		case <-time.After(5 * time.Second):
			summarize(count, total, max, under50ms, logger)
			return
		}
	}
}

func summarize(count int, total, max time.Duration, under50ms int, logger zerolog.Logger) {
	if count == 0 {
		fmt.Fprintln(os.Stdout, "no samples collected")
		return
	}

	avg := time.Duration(int64(math.Round(float64(total) / float64(count))))
	pct := (float64(under50ms) / float64(count)) * 100

	fmt.Fprintf(os.Stdout, "Samples: %d\nAvg latency: %s\nMax latency: %s\n<50ms: %.2f%%\n", count, avg, max, pct)
	if pct < 95 {
		logger.Warn().Msg("less than 95% of updates met the 50ms target")
	}
}
