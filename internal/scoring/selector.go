package scoring

import (
	"sort"

	"github.com/ourcityhealth/citypulse/internal/pipeline"
)

// Candidate pairs an item with its computed score and capping key. Candidates
// are ephemeral, rebuilt every run, never persisted.
type Candidate struct {
	Item      pipeline.Item
	Score     float64
	DomainKey string
}

// NewCandidate scores item and derives its domain key.
func NewCandidate(s *Scorer, item pipeline.Item) Candidate {
	return Candidate{
		Item:      item,
		Score:     s.Score(&item),
		DomainKey: DomainKey(&item),
	}
}

// Select picks up to target candidates from pool, balancing domains and
// filtering near-duplicate titles. Pure function of its inputs: identical
// pools yield identical selections.
//
// Pools no larger than the target pass through unchanged. Otherwise the pool
// is sorted by score descending (ties keep original order), a per-domain cap
// of max(3, target/max(8, distinctDomains)) is applied greedily, and a second
// relaxed pass without the cap fills any remaining slots. The duplicate-title
// filter holds in both passes.
func Select(pool []Candidate, target int) []Candidate {
	if target <= 0 || len(pool) == 0 {
		return nil
	}
	if len(pool) <= target {
		out := make([]Candidate, len(pool))
		copy(out, pool)
		return out
	}

	order := make([]int, len(pool))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return pool[order[a]].Score > pool[order[b]].Score
	})

	domains := make(map[string]struct{}, len(pool))
	for _, c := range pool {
		domains[c.DomainKey] = struct{}{}
	}
	denom := len(domains)
	if denom < 8 {
		denom = 8
	}
	perDomainCap := target / denom
	if perDomainCap < 3 {
		perDomainCap = 3
	}

	var picked []Candidate
	pickedIdx := make(map[int]struct{})
	usedTitles := make(map[string]struct{})
	perDomain := make(map[string]int)

	for _, i := range order {
		if len(picked) >= target {
			break
		}
		c := pool[i]
		if perDomain[c.DomainKey] >= perDomainCap {
			continue
		}
		tk := TitleKey(c.Item.Title)
		if _, dup := usedTitles[tk]; dup {
			continue
		}
		picked = append(picked, c)
		pickedIdx[i] = struct{}{}
		usedTitles[tk] = struct{}{}
		perDomain[c.DomainKey]++
	}

	// relaxed pass: caps exhausted the unique domains, fill remaining slots
	// ignoring the cap but never re-admitting duplicate titles
	if len(picked) < target {
		for _, i := range order {
			if len(picked) >= target {
				break
			}
			if _, done := pickedIdx[i]; done {
				continue
			}
			c := pool[i]
			tk := TitleKey(c.Item.Title)
			if _, dup := usedTitles[tk]; dup {
				continue
			}
			picked = append(picked, c)
			pickedIdx[i] = struct{}{}
			usedTitles[tk] = struct{}{}
		}
	}

	if len(picked) > target {
		picked = picked[:target]
	}
	return picked
}

// Kinds in fixed bucket order so balanced selection is deterministic.
var bucketOrder = []pipeline.Kind{
	pipeline.KindArticle,
	pipeline.KindDiscussionPost,
	pipeline.KindDiscussionComment,
}

// SelectBalanced splits the pool into per-kind buckets, runs Select inside
// each with an even share of the target, then tops up from the unselected
// remainder, and trims to the target. Reuses Select for every phase.
func SelectBalanced(pool []Candidate, target int) []Candidate {
	if target <= 0 || len(pool) == 0 {
		return nil
	}

	byKind := make(map[pipeline.Kind][]int)
	for i, c := range pool {
		byKind[c.Item.Kind] = append(byKind[c.Item.Kind], i)
	}
	kinds := 0
	for _, idx := range byKind {
		if len(idx) > 0 {
			kinds++
		}
	}
	perBucket := target / kinds
	if perBucket < 1 {
		perBucket = 1
	}

	pickedIdx := make(map[int]struct{})
	var picked []Candidate
	for _, kind := range bucketOrder {
		idx := byKind[kind]
		if len(idx) == 0 {
			continue
		}
		bucket := make([]Candidate, len(idx))
		for j, i := range idx {
			bucket[j] = pool[i]
		}
		for _, c := range Select(bucket, perBucket) {
			picked = append(picked, c)
			markPicked(pool, idx, c, pickedIdx)
		}
	}

	if remaining := target - len(picked); remaining > 0 {
		var rest []Candidate
		for i, c := range pool {
			if _, done := pickedIdx[i]; !done {
				rest = append(rest, c)
			}
		}
		picked = append(picked, Select(rest, remaining)...)
	}

	if len(picked) > target {
		picked = picked[:target]
	}
	return picked
}

// markPicked records the pool index of a candidate returned by a bucket
// Select. Bucket selections preserve candidate values, so the first unpicked
// index with an equal item URL and title identifies it.
func markPicked(pool []Candidate, idx []int, c Candidate, pickedIdx map[int]struct{}) {
	for _, i := range idx {
		if _, done := pickedIdx[i]; done {
			continue
		}
		if pool[i].Item.URL == c.Item.URL && pool[i].Item.Title == c.Item.Title && pool[i].Item.Body == c.Item.Body {
			pickedIdx[i] = struct{}{}
			return
		}
	}
}
