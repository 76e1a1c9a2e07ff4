package file

import (
    "bufio"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "sync"
    "time"

    "github.com/amirimatin/go-keeper/pkg/discovery"
)

// DefaultEnv is consulted when Options.Env is empty.
const DefaultEnv = "KEEPER_SEEDS"

// Options configures file/ENV-based discovery.
type Options struct {
    // Path to a file (or glob) containing one seed per line or a
    // comma-separated list. Lines starting with '#' are comments.
    Path string
    // Env names an environment variable that overrides the file when set.
    // Empty means DefaultEnv.
    Env string
    // Refresh controls cache staleness; if zero, defaults to 5s.
    Refresh time.Duration
}

type fileSeeds struct {
    opts  Options
    mu    sync.Mutex
    last  time.Time
    mtime time.Time
    cache []string
}

func New(opts Options) discovery.Discovery {
    if opts.Refresh <= 0 {
        opts.Refresh = 5 * time.Second
    }
    if opts.Env == "" {
        opts.Env = DefaultEnv
    }
    return &fileSeeds{opts: opts}
}

func (f *fileSeeds) Seeds() []string {
    f.mu.Lock()
    defer f.mu.Unlock()

    // ENV takes precedence over the file.
    if v := strings.TrimSpace(os.Getenv(f.opts.Env)); v != "" {
        return splitSeeds(v)
    }
    if f.opts.Path == "" {
        return nil
    }

    now := time.Now()
    stat, err := os.Stat(f.opts.Path)
    if err == nil {
        // Reload when the file changed or the cache went stale.
        if stat.ModTime().After(f.mtime) || now.Sub(f.last) >= f.opts.Refresh {
            f.cache = loadFile(f.opts.Path)
            f.last = now
            f.mtime = stat.ModTime()
        }
        return append([]string(nil), f.cache...)
    }

    // Path may be a glob over several seed files.
    matches, _ := filepath.Glob(f.opts.Path)
    if len(matches) > 0 {
        set := make(map[string]struct{})
        for _, m := range matches {
            for _, s := range loadFile(m) {
                set[s] = struct{}{}
            }
        }
        out := make([]string, 0, len(set))
        for s := range set {
            out = append(out, s)
        }
        sort.Strings(out)
        f.cache = out
        f.last = now
        return append([]string(nil), f.cache...)
    }
    return append([]string(nil), f.cache...)
}

func loadFile(path string) []string {
    fh, err := os.Open(path)
    if err != nil {
        return nil
    }
    defer fh.Close()
    var seeds []string
    s := bufio.NewScanner(fh)
    for s.Scan() {
        line := strings.TrimSpace(s.Text())
        if line == "" || strings.HasPrefix(line, "#") {
            continue
        }
        seeds = append(seeds, splitSeeds(line)...)
    }
    if err := s.Err(); err != nil {
        return nil
    }
    set := make(map[string]struct{})
    for _, x := range seeds {
        set[x] = struct{}{}
    }
    seeds = seeds[:0]
    for x := range set {
        seeds = append(seeds, x)
    }
    sort.Strings(seeds)
    return seeds
}

func splitSeeds(csv string) []string {
    parts := strings.Split(csv, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p != "" {
            out = append(out, p)
        }
    }
    if len(out) == 0 {
        return nil
    }
    return out
}
