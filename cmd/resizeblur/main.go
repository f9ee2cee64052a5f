package main

import (
    "context"
    "errors"
    "flag"
    "fmt"
    "log"
    "math/rand"
    "net"
    "net/http"
    "os"
    "os/signal"
    "strconv"
    "strings"
    "syscall"
    "time"

    "resizeblur/internal/imageio"
    "resizeblur/internal/rtpraw"
    "resizeblur/internal/server"
    "resizeblur/internal/stream"
    "resizeblur/internal/version"
)

func main() {
    mode := flag.String("mode", getEnv("MODE", "serve"), "serve | file | rtp-recv")
    host := flag.String("host", getEnv("HOST", "0.0.0.0"), "bind host")
    port := flag.Int("port", getEnvInt("PORT", 8000), "bind port")
    lanes := flag.Int("lanes", getEnvInt("LANES", 0), "pixels per vector, power of two up to 64 (0 = auto)")
    depth := flag.Int("depth", getEnvInt("STREAM_DEPTH", stream.DefaultDepth), "FIFO depth in vectors")
    sigma := flag.Float64("sigma", getEnvFloat("SIGMA", 1.5), "gaussian sigma (0 disables the blur)")
    renorm := flag.Bool("renorm", getEnvBool("EDGE_RENORM", false), "renormalize the blur at frame edges")
    in := flag.String("in", "", "file mode: input image (png, jpeg, gif, bmp, tiff, webp, rgb, rgb.zst); empty = synthetic")
    out := flag.String("out", "", "file mode: output image; rtp-recv: output path, may contain %d")
    width := flag.Int("width", 0, "output width (0 = input width / scale)")
    height := flag.Int("height", 0, "output height (0 = input height / scale)")
    scale := flag.Int("scale", 3, "downscale factor used when -width/-height are 0")
    verify := flag.Bool("verify", false, "file mode: compare against the full-frame reference")
    frames := flag.Int("frames", 1, "synthetic frames to stream in file mode; frames to receive in rtp-recv (0 = until interrupted)")
    taps := flag.String("rtp", getEnv("RTP_TAPS", ""), "comma-separated host:port UDP destinations for output frames")
    tapQueue := flag.Int("rtp-queue", getEnvInt("RTP_QUEUE", rtpraw.DefaultTapQueue), "serve: frames queued per RTP tap before frames are dropped")
    listen := flag.String("rtp-listen", getEnv("RTP_LISTEN", ":5004"), "rtp-recv: UDP listen address")
    rawW := flag.Int("raw-width", 0, "width of raw input, or of received RTP frames")
    rawH := flag.Int("raw-height", 0, "height of raw input, or of received RTP frames")
    showVersion := flag.Bool("version", false, "print version and exit")
    flag.Parse()

    if *showVersion {
        fmt.Println(version.Name, version.String())
        return
    }
    log.Printf("%s %s", version.Name, version.String())

    switch *mode {
    case "serve":
        runServe(server.Config{
            Host:            *host,
            Port:            *port,
            Lanes:           *lanes,
            Depth:           *depth,
            Sigma:           *sigma,
            EdgeRenormalize: *renorm,
            RTPTaps:         splitList(*taps),
            TapQueue:        *tapQueue,
        })
    case "file":
        ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
        defer stop()
        err := runFile(ctx, fileOptions{
            in: *in, out: *out,
            width: *width, height: *height, scale: *scale,
            rawW: *rawW, rawH: *rawH,
            lanes: *lanes, depth: *depth,
            sigma: *sigma, renorm: *renorm, verify: *verify,
            frames: *frames, taps: splitList(*taps),
        })
        if err != nil { log.Fatalf("file: %v", err) }
    case "rtp-recv":
        ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
        defer stop()
        if err := runReceive(ctx, *listen, *rawW, *rawH, *frames, *out); err != nil {
            log.Fatalf("rtp-recv: %v", err)
        }
    default:
        log.Fatalf("unknown -mode %q", *mode)
    }
}

func runServe(cfg server.Config) {
    s, err := server.New(cfg)
    if err != nil { log.Fatalf("server: %v", err) }
    defer s.Close()
    mux := http.NewServeMux()
    s.RegisterRoutes(mux)

    srv := &http.Server{
        Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
        Handler:           mux,
        ReadHeaderTimeout: 10 * time.Second,
    }
    go func() {
        log.Printf("resize-blur server listening on http://%s (lanes=%d depth=%d sigma=%.2f)", srv.Addr, cfg.Lanes, cfg.Depth, cfg.Sigma)
        if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
            log.Fatalf("ListenAndServe: %v", err)
        }
    }()

    sig := make(chan os.Signal, 1)
    signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
    <-sig
    ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
    defer cancel()
    _ = srv.Shutdown(ctx)
}

type fileOptions struct {
    in, out        string
    width, height  int
    scale          int
    rawW, rawH     int
    lanes, depth   int
    sigma          float64
    renorm, verify bool
    frames         int
    taps           []string
}

func runFile(ctx context.Context, o fileOptions) error {
    timer := newStopwatch()
    src, source, err := openInput(o)
    if err != nil { return err }
    if source != nil { defer source.Stop() }
    timer.mark("load")

    lanes := o.lanes
    if lanes == 0 { lanes = stream.AutoLanes(src.W) }
    prm, err := outputParams(src.W, src.H, o.width, o.height, o.scale, lanes)
    if err != nil { return err }
    prm.Sigma = o.sigma
    pipe := stream.NewPipeline(stream.Config{Lanes: lanes, Depth: o.depth, EdgeRenormalize: o.renorm})
    if err := pipe.Validate(prm); err != nil { return err }
    log.Printf("resizing %dx%d to %dx%d, sigma=%.2f lanes=%d", prm.WidthIn, prm.HeightIn, prm.WidthOut, prm.HeightOut, prm.Sigma, lanes)

    var sinks []*rtpraw.UDPSink
    for _, addr := range o.taps {
        sink, err := rtpraw.DialUDP(addr)
        if err != nil { return err }
        defer sink.Close()
        sinks = append(sinks, sink)
    }

    var first, last []byte
    frame := src.Pix
    for n := 0; ; n++ {
        out, err := pipe.Process(ctx, frame, prm)
        if err != nil {
            if ctx.Err() != nil && last != nil { break }
            return err
        }
        if n == 0 { first = out }
        last = out
        timer.mark(fmt.Sprintf("process frame %d", n))
        for _, sink := range sinks {
            ts := uint32(n * rtpraw.ClockRate / 30)
            if err := sink.WriteFrame(rtpraw.Frame{Pix: out, W: prm.WidthOut, H: prm.HeightOut, Timestamp: ts}); err != nil {
                log.Printf("rtp tap %s: %v", sink.Addr(), err)
            }
        }
        if source == nil || ctx.Err() != nil { break }
        var ok bool
        if frame, ok = source.Next(); !ok { break }
    }

    if o.verify {
        ref, err := stream.ProcessFrame(src.Pix, prm, o.renorm)
        if err != nil { return err }
        timer.mark("reference")
        if bad := stream.Mismatches(first, ref); bad > 0 {
            return fmt.Errorf("verify: %d of %d bytes differ from the reference", bad, len(ref))
        }
        log.Printf("verify: output matches the reference")
    }

    if o.out != "" {
        if err := imageio.Save(o.out, &imageio.Frame{W: prm.WidthOut, H: prm.HeightOut, Pix: last}); err != nil { return err }
        timer.mark("write " + o.out)
    }
    timer.report()
    log.Printf("counters: %v", stream.GetCounters())
    return nil
}

// openInput loads the input image, or starts a synthetic source when no
// input is given. The returned frame is the first one; the source is nil for
// file input.
func openInput(o fileOptions) (*imageio.Frame, stream.Source, error) {
    if o.in != "" {
        f, err := imageio.Load(o.in, o.rawW, o.rawH)
        return f, nil, err
    }
    w, h := o.rawW, o.rawH
    if w <= 0 { w = 1920 }
    if h <= 0 { h = 1080 }
    src := stream.NewSynthetic(w, h, o.frames, rand.Int63())
    pix, ok := src.Next()
    if !ok { return nil, nil, errors.New("synthetic source produced no frame") }
    log.Printf("no -in given, streaming synthetic %dx%d frames (limit %d, 0 = none)", w, h, o.frames)
    return &imageio.Frame{W: w, H: h, Pix: pix}, src, nil
}

// outputParams derives the output size from explicit dimensions or the scale
// factor. A derived width is moved to the nearest lane multiple.
func outputParams(inW, inH, w, h, scale, lanes int) (stream.Params, error) {
    prm := stream.Params{WidthIn: inW, HeightIn: inH, WidthOut: w, HeightOut: h}
    if (w == 0 || h == 0) && scale <= 0 {
        return prm, fmt.Errorf("-scale must be positive, got %d", scale)
    }
    if h == 0 { prm.HeightOut = max(inH/scale, 1) }
    if w == 0 {
        prm.WidthOut = inW / scale
        if aligned := stream.AlignWidth(prm.WidthOut, lanes); aligned != prm.WidthOut {
            log.Printf("output width %d is not a multiple of %d, adjusting to %d", prm.WidthOut, lanes, aligned)
            prm.WidthOut = aligned
        }
    }
    return prm, nil
}

var errEnough = errors.New("frame limit reached")

func runReceive(ctx context.Context, addr string, w, h, frames int, out string) error {
    if w <= 0 || h <= 0 {
        return fmt.Errorf("-raw-width and -raw-height must give the frame size, got %dx%d", w, h)
    }
    pc, err := net.ListenPacket("udp", addr)
    if err != nil { return err }
    log.Printf("receiving %dx%d raw RTP on %s", w, h, pc.LocalAddr())
    d := rtpraw.NewDepacketizer(w, h)
    n := 0
    err = rtpraw.Receive(ctx, pc, d, func(pix []byte) error {
        n++
        log.Printf("frame %d: %d packets lost, %d frames abandoned so far", n, d.Lost(), d.Abandoned())
        if out != "" {
            path := out
            if strings.Contains(out, "%") { path = fmt.Sprintf(out, n) }
            if err := imageio.Save(path, &imageio.Frame{W: w, H: h, Pix: pix}); err != nil { return err }
        }
        if frames > 0 && n >= frames { return errEnough }
        return nil
    })
    if errors.Is(err, errEnough) || errors.Is(err, context.Canceled) { return nil }
    return err
}

// stopwatch logs the time spent between marks.
type stopwatch struct {
    first time.Time
    last  time.Time
    steps []string
}

func newStopwatch() *stopwatch {
    now := time.Now()
    return &stopwatch{first: now, last: now}
}

func (s *stopwatch) mark(name string) {
    now := time.Now()
    s.steps = append(s.steps, fmt.Sprintf("%-24s %8.3f ms", name, float64(now.Sub(s.last).Microseconds())/1000))
    s.last = now
}

func (s *stopwatch) report() {
    for _, st := range s.steps { log.Print(st) }
    log.Printf("%-24s %8.3f ms", "total", float64(s.last.Sub(s.first).Microseconds())/1000)
}

func splitList(v string) []string {
    var out []string
    for _, p := range strings.Split(v, ",") {
        if p = strings.TrimSpace(p); p != "" { out = append(out, p) }
    }
    return out
}

func getEnv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

func getEnvInt(key string, def int) int {
    if v := os.Getenv(key); v != "" {
        var x int
        if _, err := fmt.Sscanf(v, "%d", &x); err == nil {
            return x
        }
    }
    return def
}

func getEnvFloat(key string, def float64) float64 {
    if v := os.Getenv(key); v != "" {
        if x, err := strconv.ParseFloat(v, 64); err == nil {
            return x
        }
    }
    return def
}

func getEnvBool(key string, def bool) bool {
    if v := os.Getenv(key); v != "" {
        if b, err := strconv.ParseBool(v); err == nil {
            return b
        }
    }
    return def
}
