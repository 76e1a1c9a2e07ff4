package discovery

import "sort"

// Discovery abstracts how gossip seed addresses are provided to a starting
// node. Implementations include static lists, files/environment and DNS.
type Discovery interface {
    Seeds() []string
}

// Multi merges several sources, de-duplicating and sorting the union. A nil
// or empty source contributes nothing.
func Multi(sources ...Discovery) Discovery { return multi(sources) }

type multi []Discovery

func (m multi) Seeds() []string {
    set := make(map[string]struct{})
    for _, src := range m {
        if src == nil {
            continue
        }
        for _, s := range src.Seeds() {
            if s != "" {
                set[s] = struct{}{}
            }
        }
    }
    if len(set) == 0 {
        return nil
    }
    out := make([]string, 0, len(set))
    for s := range set {
        out = append(out, s)
    }
    sort.Strings(out)
    return out
}
