package server

import (
    "bytes"
    "encoding/json"
    "errors"
    "fmt"
    "image"
    "io"
    "log"
    "net/http"
    "sort"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/google/uuid"
    "github.com/klauspost/compress/zstd"
    "resizeblur/internal/imageio"
    "resizeblur/internal/rtpraw"
    "resizeblur/internal/stream"
    "resizeblur/internal/version"
)

// MaxFrameBytes is the size of the largest accepted frame, packed RGB8.
const MaxFrameBytes = stream.MaxWidth * stream.MaxHeight * 3

var (
    errBadRequest = errors.New("bad request")
    errTooLarge   = errors.New("request body too large")
)

type Config struct {
    Host            string
    Port            int
    // Lanes per vector; 0 picks the widest lane count both widths allow.
    Lanes           int
    Depth           int
    // Sigma is used when a request has no sigma parameter.
    Sigma           float64
    EdgeRenormalize bool
    // RTPTaps are host:port UDP destinations that receive every output frame.
    RTPTaps         []string
    // TapQueue is the per-tap queue depth in frames; 0 uses the default.
    TapQueue        int
}

type Server struct {
    cfg   Config
    start time.Time
    mu    sync.Mutex
    jobs  map[string]*Job
    taps  *rtpraw.Broadcaster
    sinks []*rtpraw.UDPSink
}

// Job describes one request in flight.
type Job struct {
    ID        string    `json:"id"`
    WidthIn   int       `json:"width_in"`
    HeightIn  int       `json:"height_in"`
    WidthOut  int       `json:"width_out"`
    HeightOut int       `json:"height_out"`
    Sigma     float64   `json:"sigma"`
    Lanes     int       `json:"lanes"`
    Started   time.Time `json:"started"`
}

// New dials the configured RTP taps. A tap that cannot be dialed is an error.
func New(cfg Config) (*Server, error) {
    s := &Server{cfg: cfg, start: time.Now(), jobs: map[string]*Job{}, taps: rtpraw.NewBroadcaster(cfg.TapQueue)}
    for _, addr := range cfg.RTPTaps {
        addr = strings.TrimSpace(addr)
        if addr == "" { continue }
        sink, err := rtpraw.DialUDP(addr)
        if err != nil {
            s.Close()
            return nil, err
        }
        s.sinks = append(s.sinks, sink)
        s.taps.Add(sink)
        log.Printf("RTP tap %s: added", addr)
    }
    return s, nil
}

// Close stops the taps and releases their sockets.
func (s *Server) Close() {
    s.taps.Close()
    for _, sink := range s.sinks { _ = sink.Close() }
    s.sinks = nil
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
    mux.HandleFunc("/v1/resize-blur", s.handleResizeBlur)
    mux.HandleFunc("/v1/jobs", s.handleJobs)
    mux.HandleFunc("/health", s.handleHealth)
    mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
        if r.URL.Path != "/" { http.NotFound(w, r); return }
        w.Header().Set("Content-Type", "text/html; charset=utf-8")
        io.WriteString(w, indexHTML)
    })
}

// POST /v1/resize-blur?width_in=&height_in=&width_out=&height_out=&sigma=
func (s *Server) handleResizeBlur(w http.ResponseWriter, r *http.Request) {
    allowCORS(w, r)
    if r.Method == http.MethodOptions { w.WriteHeader(http.StatusNoContent); return }
    if r.Method != http.MethodPost { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }

    isImage := strings.HasPrefix(r.Header.Get("Content-Type"), "image/")
    prm, err := s.parseParams(r, isImage)
    if err != nil { httpError(w, err); return }

    body, err := readBody(w, r)
    if err != nil { httpError(w, err); return }
    in := body
    if isImage {
        f, _, err := imageio.DecodeLimit(bytes.NewReader(body), stream.MaxWidth, stream.MaxHeight)
        if errors.Is(err, imageio.ErrDimensions) { httpError(w, fmt.Errorf("%w: %v", errTooLarge, err)); return }
        if err != nil { httpError(w, fmt.Errorf("%w: %v", errBadRequest, err)); return }
        in = f.Pix
        prm.WidthIn, prm.HeightIn = f.W, f.H
        if prm.WidthOut == 0 { prm.WidthOut = f.W }
        if prm.HeightOut == 0 { prm.HeightOut = f.H }
    }

    lanes := s.lanesFor(prm)
    pipe := stream.NewPipeline(stream.Config{Lanes: lanes, Depth: s.cfg.Depth, EdgeRenormalize: s.cfg.EdgeRenormalize})
    if err := pipe.Validate(prm); err != nil { httpError(w, err); return }

    id := uuid.New().String()
    j := &Job{ID: id, WidthIn: prm.WidthIn, HeightIn: prm.HeightIn, WidthOut: prm.WidthOut,
        HeightOut: prm.HeightOut, Sigma: prm.Sigma, Lanes: lanes, Started: time.Now()}
    s.mu.Lock(); s.jobs[id] = j; s.mu.Unlock()
    defer func() { s.mu.Lock(); delete(s.jobs, id); s.mu.Unlock() }()

    out, err := pipe.Process(r.Context(), in, prm)
    elapsed := time.Since(j.Started)
    if err != nil {
        log.Printf("job %s: failed after %v: %v", id, elapsed, err)
        httpError(w, err)
        return
    }
    log.Printf("job %s: %dx%d -> %dx%d sigma=%.2f lanes=%d done in %v", id, prm.WidthIn, prm.HeightIn, prm.WidthOut, prm.HeightOut, prm.Sigma, lanes, elapsed)

    if s.taps.Len() > 0 {
        s.taps.WriteFrame(rtpraw.Frame{Pix: out, W: prm.WidthOut, H: prm.HeightOut, Timestamp: s.rtpTimestamp()})
    }

    h := w.Header()
    h.Set("Server", version.UserAgent())
    h.Set("X-Job-Id", id)
    h.Set("X-Image-Width", strconv.Itoa(prm.WidthOut))
    h.Set("X-Image-Height", strconv.Itoa(prm.HeightOut))
    h.Set("X-Elapsed-Ms", strconv.FormatInt(elapsed.Milliseconds(), 10))
    frame := &imageio.Frame{W: prm.WidthOut, H: prm.HeightOut, Pix: out}
    switch {
    case isImage:
        h.Set("Content-Type", "image/png")
        err = imageio.Encode(w, frame, imageio.FormatPNG)
    case acceptsZstd(r):
        h.Set("Content-Type", "application/octet-stream")
        h.Set("Content-Encoding", "zstd")
        err = imageio.WriteRaw(w, frame, true)
    default:
        h.Set("Content-Type", "application/octet-stream")
        h.Set("Content-Length", strconv.Itoa(len(out)))
        _, err = w.Write(out)
    }
    if err != nil {
        log.Printf("job %s: write response: %v", id, err)
    }
}

// GET /v1/jobs -> { jobs: [ {id, width_in, ...} ] }
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
    allowCORS(w, r)
    if r.Method == http.MethodOptions { w.WriteHeader(http.StatusNoContent); return }
    if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
    w.Header().Set("Content-Type", "application/json")
    _ = json.NewEncoder(w).Encode(map[string]any{"jobs": s.Jobs()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
    allowCORS(w, r)
    s.mu.Lock(); n := len(s.jobs); s.mu.Unlock()
    w.Header().Set("Content-Type", "application/json")
    _ = json.NewEncoder(w).Encode(map[string]any{
        "status":     "ok",
        "version":    version.String(),
        "jobs":       n,
        "taps":       s.taps.Len(),
        "tap_drops":  s.taps.Dropped(),
        "tap_errors": s.taps.Failed(),
        "counters":   stream.GetCounters(),
    })
}

// Jobs returns the in-flight jobs, oldest first.
func (s *Server) Jobs() []Job {
    s.mu.Lock()
    list := make([]Job, 0, len(s.jobs))
    for _, j := range s.jobs { list = append(list, *j) }
    s.mu.Unlock()
    sort.Slice(list, func(a, b int) bool { return list[a].Started.Before(list[b].Started) })
    return list
}

func (s *Server) parseParams(r *http.Request, isImage bool) (stream.Params, error) {
    q := r.URL.Query()
    var prm stream.Params
    var err error
    // image bodies carry their own input size
    if !isImage {
        if prm.WidthIn, err = queryInt(q.Get("width_in"), true); err != nil { return prm, fmt.Errorf("width_in: %w", err) }
        if prm.HeightIn, err = queryInt(q.Get("height_in"), true); err != nil { return prm, fmt.Errorf("height_in: %w", err) }
    }
    if prm.WidthOut, err = queryInt(q.Get("width_out"), !isImage); err != nil { return prm, fmt.Errorf("width_out: %w", err) }
    if prm.HeightOut, err = queryInt(q.Get("height_out"), !isImage); err != nil { return prm, fmt.Errorf("height_out: %w", err) }
    prm.Sigma = s.cfg.Sigma
    if v := q.Get("sigma"); v != "" {
        if prm.Sigma, err = strconv.ParseFloat(v, 64); err != nil {
            return prm, fmt.Errorf("%w: sigma %q", errBadRequest, v)
        }
    }
    return prm, nil
}

func queryInt(v string, required bool) (int, error) {
    if v == "" {
        if required { return 0, fmt.Errorf("%w: missing", errBadRequest) }
        return 0, nil
    }
    n, err := strconv.Atoi(v)
    if err != nil { return 0, fmt.Errorf("%w: %q is not an integer", errBadRequest, v) }
    return n, nil
}

// lanesFor uses the configured lane count, or the widest power of two that
// divides both widths when none is configured.
func (s *Server) lanesFor(prm stream.Params) int {
    if s.cfg.Lanes > 0 { return s.cfg.Lanes }
    l := stream.AutoLanes(prm.WidthIn)
    for l > 1 && prm.WidthOut%l != 0 { l >>= 1 }
    return l
}

func (s *Server) rtpTimestamp() uint32 {
    return uint32(time.Since(s.start).Milliseconds() * rtpraw.ClockRate / 1000)
}

// readBody reads at most one 4K frame, undoing zstd content encoding.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
    var src io.Reader = http.MaxBytesReader(w, r.Body, MaxFrameBytes)
    if strings.EqualFold(r.Header.Get("Content-Encoding"), "zstd") {
        zr, err := imageio.NewZstdReader(src, MaxFrameBytes)
        if err != nil { return nil, err }
        defer zr.Close()
        src = io.LimitReader(zr, MaxFrameBytes+1)
    }
    b, err := io.ReadAll(src)
    if err != nil {
        var mbe *http.MaxBytesError
        if errors.As(err, &mbe) || errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
            return nil, fmt.Errorf("%w: %v", errTooLarge, err)
        }
        return nil, fmt.Errorf("%w: %v", errBadRequest, err)
    }
    if len(b) > MaxFrameBytes {
        return nil, fmt.Errorf("%w: decoded body exceeds %d bytes", errTooLarge, MaxFrameBytes)
    }
    return b, nil
}

func acceptsZstd(r *http.Request) bool {
    for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
        enc, _, _ = strings.Cut(strings.TrimSpace(enc), ";")
        if strings.EqualFold(enc, "zstd") { return true }
    }
    return false
}

func statusFor(err error) int {
    switch {
    case errors.Is(err, errTooLarge):
        return http.StatusRequestEntityTooLarge
    case errors.Is(err, errBadRequest),
        errors.Is(err, stream.ErrResolution),
        errors.Is(err, stream.ErrAlignment),
        errors.Is(err, stream.ErrScaleRatio),
        errors.Is(err, stream.ErrSigma),
        errors.Is(err, stream.ErrLanes),
        errors.Is(err, stream.ErrInputSize),
        errors.Is(err, stream.ErrShortInput),
        errors.Is(err, imageio.ErrFormat),
        errors.Is(err, image.ErrFormat):
        return http.StatusBadRequest
    }
    return http.StatusInternalServerError
}

func httpError(w http.ResponseWriter, err error) {
    http.Error(w, err.Error(), statusFor(err))
}

func allowCORS(w http.ResponseWriter, r *http.Request) {
    origin := r.Header.Get("Origin")
    if origin == "" { origin = "*" }
    w.Header().Set("Access-Control-Allow-Origin", origin)
    w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
    w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Encoding, Accept-Encoding")
    w.Header().Set("Access-Control-Expose-Headers", "X-Job-Id, X-Image-Width, X-Image-Height, X-Elapsed-Ms")
}

const indexHTML = `<!doctype html>
<meta charset="utf-8" />
<title>resizeblur</title>
<style>body{font-family:system-ui;margin:2rem}img{max-width:80vw;background:#000}</style>
<div>
  <input id="file" type="file" accept="image/*"/>
  width <input id="w" size="5" value="640"/> height <input id="h" size="5" value="360"/>
  sigma <input id="s" size="4" value="1.5"/>
  <button id="go">Run</button>
  <div id="msg"></div>
</div>
<img id="out"/>
<script>
const $=id=>document.getElementById(id);
$("go").onclick = async ()=>{
  const f=$("file").files[0]; if(!f){return}
  const q=new URLSearchParams({width_out:$("w").value,height_out:$("h").value,sigma:$("s").value});
  const resp=await fetch('/v1/resize-blur?'+q,{method:'POST',headers:{'Content-Type':f.type||'image/png'},body:f});
  if(!resp.ok){$("msg").textContent=await resp.text();return}
  $("msg").textContent='job '+resp.headers.get('X-Job-Id')+' in '+resp.headers.get('X-Elapsed-Ms')+' ms';
  $("out").src=URL.createObjectURL(await resp.blob());
}
</script>`
