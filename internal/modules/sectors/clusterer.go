package sectors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Clustering budget. Each anchor looks ahead at most lookaheadWindow
// unprocessed candidates, and the whole pass performs at most
// maxComparisons pairwise tests so it stays sub-linear on big lists.
const (
	clusterLookaheadWindow = 10
	clusterMaxComparisons  = 50

	// Fast path: two sectors sharing >= 2 of their top-5 weight stocks
	// are near-duplicates without loading full membership.
	topOverlapThreshold = 2

	// Deep path Jaccard threshold on full constituent sets.
	jaccardThreshold = 0.35
)

// ClusterItem is one sector entering the clusterer, carrying the caller's
// ranking score and the day's top-5 weight stocks.
type ClusterItem struct {
	Name    string
	Score   float64
	Top5    []string
	Payload interface{} // caller data carried through unchanged
}

// ClusteredSector is one retained sector after de-duplication.
type ClusteredSector struct {
	ClusterItem
	AggregatedSectors []string `json:"aggregated_sectors"`
	AggregatedCount   int      `json:"aggregated_count"`
	DisplayName       string   `json:"display_name"`
}

// MembershipSource resolves a sector name to its full constituent codes.
// Only consulted on the deep path, when the top-5 fast test misses.
type MembershipSource interface {
	MemberCodesByName(name string) ([]string, error)
}

// Clusterer collapses near-synonymous sector labels ("CPO" vs
// "optical communications") before sector lists are presented.
type Clusterer struct {
	members MembershipSource
	log     zerolog.Logger

	// memberCache keeps the deep-path membership sets for one pass.
	memberCache map[string]map[string]struct{}
}

// NewClusterer creates a clusterer backed by the given membership source.
func NewClusterer(members MembershipSource, log zerolog.Logger) *Clusterer {
	return &Clusterer{
		members: members,
		log:     log.With().Str("component", "clusterer").Logger(),
	}
}

// Cluster walks the items in descending score order. Each unprocessed
// anchor absorbs similar sectors from its lookahead window; absorbed
// sectors are recorded under aggregated_sectors in score order. Sectors
// never reached within the comparison budget pass through unclustered.
func (c *Clusterer) Cluster(items []ClusterItem) []ClusteredSector {
	sorted := make([]ClusterItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	c.memberCache = make(map[string]map[string]struct{})
	defer func() { c.memberCache = nil }()

	processed := make([]bool, len(sorted))
	comparisons := 0
	out := make([]ClusteredSector, 0, len(sorted))

	for i := range sorted {
		if processed[i] {
			continue
		}
		processed[i] = true
		cluster := ClusteredSector{ClusterItem: sorted[i]}

		for j := i + 1; j < len(sorted) && len(cluster.AggregatedSectors) < clusterLookaheadWindow; j++ {
			if processed[j] {
				continue
			}
			if j-i > clusterLookaheadWindow || comparisons >= clusterMaxComparisons {
				break
			}
			comparisons++
			if c.similar(sorted[i], sorted[j]) {
				processed[j] = true
				cluster.AggregatedSectors = append(cluster.AggregatedSectors, sorted[j].Name)
			}
		}

		cluster.AggregatedCount = len(cluster.AggregatedSectors)
		cluster.DisplayName = displayName(cluster.Name, cluster.AggregatedSectors)
		out = append(out, cluster)
	}
	return out
}

func (c *Clusterer) similar(a, b ClusterItem) bool {
	if topOverlap(a.Top5, b.Top5) >= topOverlapThreshold {
		return true
	}
	setA := c.memberSet(a.Name)
	setB := c.memberSet(b.Name)
	if len(setA) == 0 || len(setB) == 0 {
		return false
	}
	return jaccard(setA, setB) >= jaccardThreshold
}

func (c *Clusterer) memberSet(name string) map[string]struct{} {
	if set, ok := c.memberCache[name]; ok {
		return set
	}
	codes, err := c.members.MemberCodesByName(name)
	if err != nil {
		c.log.Warn().Err(err).Str("sector", name).Msg("Failed to load members, skipping deep comparison")
		codes = nil
	}
	set := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	c.memberCache[name] = set
	return set
}

func topOverlap(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, code := range a {
		set[code] = struct{}{}
	}
	n := 0
	for _, code := range b {
		if _, ok := set[code]; ok {
			n++
		}
	}
	return n
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for code := range a {
		if _, ok := b[code]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func displayName(name string, aggregated []string) string {
	if len(aggregated) == 0 {
		return name
	}
	return fmt.Sprintf("%s (aggregated: %s)", name, strings.Join(aggregated, ", "))
}
