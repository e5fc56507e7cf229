package memory

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	patternScanLimit = 1000
	profileScanLimit = 500
	maxPatterns      = 20
	maxExamples      = 3
	exampleMaxLen    = 100
)

// themeVocabulary is the fixed set of thematic keywords the profile builder
// matches against memory content.
var themeVocabulary = []string{
	"love", "faith", "hope", "wisdom", "prayer", "grace", "mercy",
	"justice", "peace", "forgiveness", "creation", "covenant",
	"prophecy", "salvation", "kingdom",
}

// subjectPhrase matches capitalized multi-word phrases used as candidate
// subject mentions, e.g. "Sermon On The Mount". Connector words may join
// the capitalized words but never end the phrase.
var subjectPhrase = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+(?:(?:of|the|and)\s+)?[A-Z][a-z]+){1,3}\b`)

// AnalyzePatterns mines token and category frequency patterns from the
// owner's most recent memories. Purely derived: recomputed on every call,
// deterministic for a fixed memory set, top 20 by frequency with ties
// broken by first appearance.
func (e *Engine) AnalyzePatterns(ctx context.Context, ownerID int64) ([]MemoryPattern, error) {
	memories, err := e.Retrieve(ctx, ownerID, "", patternScanLimit)
	if err != nil {
		return nil, err
	}
	if len(memories) == 0 {
		return []MemoryPattern{}, nil
	}

	type bucket struct {
		pattern  MemoryPattern
		firstIdx int
	}
	buckets := map[string]*bucket{}
	order := 0

	observe := func(key string, m Memory) {
		b, ok := buckets[key]
		if !ok {
			b = &bucket{pattern: MemoryPattern{Pattern: key}, firstIdx: order}
			order++
			buckets[key] = b
		}
		b.pattern.Frequency++
		if m.CreatedAt.After(b.pattern.LastSeen) {
			b.pattern.LastSeen = m.CreatedAt
		}
		if len(b.pattern.Examples) < maxExamples {
			b.pattern.Examples = append(b.pattern.Examples, truncate(m.Content, exampleMaxLen))
		}
	}

	for _, m := range memories {
		for _, token := range strings.Fields(m.Content) {
			token = strings.ToLower(strings.Trim(token, `.,;:!?"'()[]`))
			if len(token) <= 3 {
				continue
			}
			observe(token, m)
		}
		if m.Category != "" {
			observe("category:"+m.Category, m)
		}
	}

	ranked := make([]*bucket, 0, len(buckets))
	for _, b := range buckets {
		ranked = append(ranked, b)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].pattern.Frequency != ranked[j].pattern.Frequency {
			return ranked[i].pattern.Frequency > ranked[j].pattern.Frequency
		}
		return ranked[i].firstIdx < ranked[j].firstIdx
	})
	if len(ranked) > maxPatterns {
		ranked = ranked[:maxPatterns]
	}

	out := make([]MemoryPattern, 0, len(ranked))
	for _, b := range ranked {
		out = append(out, b.pattern)
	}
	return out, nil
}

// GetUserProfile derives a behavioral profile from the owner's most recent
// memories: favorite subjects, thematic interests, activity time slots and
// engagement counters. A data-less owner gets a zeroed profile, not an
// error. The analyzer never writes.
func (e *Engine) GetUserProfile(ctx context.Context, ownerID int64) (UserProfile, error) {
	profile := UserProfile{
		OwnerID:          ownerID,
		FavoriteSubjects: []string{},
		CommonThemes:     []string{},
		ActiveTimeSlots:  []string{},
		PreferredTopics:  []string{},
	}

	memories, err := e.Retrieve(ctx, ownerID, "", profileScanLimit)
	if err != nil {
		return UserProfile{}, err
	}
	if len(memories) == 0 {
		return profile, nil
	}

	subjects := newCounter()
	themes := newCounter()
	slots := newCounter()
	topics := newCounter()

	var sessionCount int
	var sessionSeconds float64

	for _, m := range memories {
		for _, phrase := range subjectPhrase.FindAllString(m.Content, -1) {
			subjects.add(phrase)
		}
		lower := strings.ToLower(m.Content)
		for _, theme := range themeVocabulary {
			if strings.Contains(lower, theme) {
				themes.add(theme)
			}
		}
		slots.add(timeSlot(m.CreatedAt.Hour()))

		switch m.Category {
		case CategoryAnnotation:
			profile.AnnotationFrequency++
		case CategorySessionTracking:
			sessionCount++
			if raw, ok := m.Metadata["duration_seconds"]; ok {
				if secs, err := strconv.ParseFloat(raw, 64); err == nil {
					sessionSeconds += secs
				}
			}
		}
		if m.Category != "" {
			topics.add(m.Category)
		}
	}

	profile.FavoriteSubjects = subjects.top(5)
	profile.CommonThemes = themes.top(10)
	profile.ActiveTimeSlots = slots.top(3)
	profile.PreferredTopics = topics.top(5)
	if sessionCount > 0 {
		profile.AverageSessionLength = sessionSeconds / float64(sessionCount)
	}
	return profile, nil
}

func timeSlot(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 17:
		return "afternoon"
	case hour >= 17 && hour < 21:
		return "evening"
	default:
		return "night"
	}
}

// truncate caps s at n runes. Cutting on a byte offset could split a
// multi-byte rune and emit invalid UTF-8.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// counter is a frequency counter with deterministic ranking: ties resolve
// by first insertion.
type counter struct {
	counts map[string]int
	first  map[string]int
	next   int
}

func newCounter() *counter {
	return &counter{counts: map[string]int{}, first: map[string]int{}}
}

func (c *counter) add(key string) {
	if _, ok := c.counts[key]; !ok {
		c.first[key] = c.next
		c.next++
	}
	c.counts[key]++
}

func (c *counter) top(n int) []string {
	keys := make([]string, 0, len(c.counts))
	for k := range c.counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if c.counts[keys[i]] != c.counts[keys[j]] {
			return c.counts[keys[i]] > c.counts[keys[j]]
		}
		return c.first[keys[i]] < c.first[keys[j]]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
