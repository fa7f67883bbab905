// frame-push streams generated test patterns to a marquee live port, for
// exercising live takeover and fallback by hand.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"

	"github.com/zsiec/marquee/internal/discovery"
	"github.com/zsiec/marquee/internal/display"
	"github.com/zsiec/marquee/internal/media"
)

func main() {
	addr := pflag.String("addr", "127.0.0.1:1337", "marquee UDP address")
	width := pflag.Int("width", media.DefaultWidth, "display width")
	height := pflag.Int("height", media.DefaultHeight, "display height")
	fps := pflag.Float64("fps", 25, "frames per second")
	duration := pflag.Duration("duration", 10*time.Second, "how long to stream (0 streams until interrupted)")
	patternName := pflag.String("pattern", "bars", "pattern: bars, gradient, checker or noise")
	noChecksum := pflag.Bool("no-checksum", false, "send raw frames without the CRC32 trailer")
	discover := pflag.Bool("discover", false, "find the live address over mDNS instead of using --addr")
	instance := pflag.String("instance", "", "with --discover, only accept this instance name")
	discoverTimeout := pflag.Duration("discover-timeout", 2*time.Second, "how long to wait for mDNS answers")
	pflag.Parse()

	g := media.Geometry{Width: *width, Height: *height}
	if err := g.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	pattern, ok := patterns[*patternName]
	if !ok {
		fmt.Fprintf(os.Stderr, "error: unknown pattern %q\n", *patternName)
		os.Exit(1)
	}
	if *fps <= 0 {
		fmt.Fprintf(os.Stderr, "error: fps must be positive\n")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var err error
	target := *addr
	if *discover {
		target, err = resolveTarget(ctx, discovery.Browse, *instance, *discoverTimeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}

	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	conn, err := net.Dial("udp", target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Printf("Streaming %s %s at %.1f fps to %s\n", *patternName, g, *fps, target)
	sent, err := stream(ctx, conn, g, pattern, time.Duration(float64(time.Second) / *fps), !*noChecksum)
	fmt.Printf("Sent %d frames\n", sent)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type browseFunc func(ctx context.Context, timeout time.Duration, found func(discovery.Instance)) error

// resolveTarget browses for a marquee instance advertising a live port and
// returns its live address. An empty name accepts the first answer.
func resolveTarget(ctx context.Context, browse browseFunc, name string, timeout time.Duration) (string, error) {
	var target string
	err := browse(ctx, timeout, func(inst discovery.Instance) {
		if target != "" || (name != "" && inst.Name != name) {
			return
		}
		if addr, ok := inst.LiveAddr(); ok {
			target = addr
		}
	})
	if err != nil {
		return "", err
	}
	if target == "" {
		if name != "" {
			return "", fmt.Errorf("no marquee instance %q found within %s", name, timeout)
		}
		return "", fmt.Errorf("no marquee instance found within %s", timeout)
	}
	return target, nil
}

// stream writes one frame per interval until ctx is done. Pacing follows the
// start time so a slow write does not accumulate drift.
func stream(ctx context.Context, conn net.Conn, g media.Geometry, pattern patternFunc, interval time.Duration, checksum bool) (int, error) {
	start := time.Now()
	for n := 0; ; n++ {
		frame := pattern(g, n)
		payload := frame.Pix
		if checksum {
			payload = display.Encode(frame)
		}
		if _, err := conn.Write(payload); err != nil {
			return n, err
		}

		next := start.Add(time.Duration(n+1) * interval)
		select {
		case <-ctx.Done():
			return n + 1, nil
		case <-time.After(time.Until(next)):
		}
	}
}
