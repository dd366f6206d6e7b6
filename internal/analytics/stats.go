// Package analytics summarizes a finished voice session: message counts,
// top emotions, an emotion trend line and AI feedback notes.
package analytics

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/J3rah/talkai-monorepo-sub002/internal/store"
)

const (
	// TopEmotionCount bounds the bar chart.
	TopEmotionCount = 8
	// MaxTrendBuckets bounds the trend line.
	MaxTrendBuckets = 10
)

// MessageCounts counts transcript turns by role.
type MessageCounts struct {
	Total     int `json:"total"`
	User      int `json:"user"`
	Assistant int `json:"assistant"`
}

// EmotionAverage is the mean intensity of one emotion label.
type EmotionAverage struct {
	Emotion string  `json:"emotion"`
	Average float64 `json:"average"`
	Samples int     `json:"samples"`
}

// Dimensions are the six emotions tracked on the trend line.
type Dimensions struct {
	Joy      float64 `json:"joy"`
	Sadness  float64 `json:"sadness"`
	Anger    float64 `json:"anger"`
	Fear     float64 `json:"fear"`
	Anxiety  float64 `json:"anxiety"`
	Calmness float64 `json:"calmness"`
}

// TrendPoint is one time bucket of the trend line.
type TrendPoint struct {
	Bucket   int        `json:"bucket"`
	Start    time.Time  `json:"start"`
	End      time.Time  `json:"end"`
	Messages int        `json:"messages"`
	Values   Dimensions `json:"values"`
}

// SessionStats is derived on every read and never stored.
type SessionStats struct {
	Messages    MessageCounts    `json:"messages"`
	TopEmotions []EmotionAverage `json:"top_emotions"`
	Trend       []TrendPoint     `json:"trend"`
}

// Aggregate computes stats from stored rows.
func Aggregate(messages []store.Message, metrics []store.EmotionMetric) SessionStats {
	return SessionStats{
		Messages:    CountMessages(messages),
		TopEmotions: TopEmotions(metrics, TopEmotionCount),
		Trend:       Trend(messages),
	}
}

// CountMessages counts turns by role.
func CountMessages(messages []store.Message) MessageCounts {
	c := MessageCounts{Total: len(messages)}
	for _, m := range messages {
		switch m.Role {
		case store.RoleUser:
			c.User++
		case store.RoleAssistant:
			c.Assistant++
		}
	}
	return c
}

// TopEmotions averages intensity per label and returns the n highest, ties
// broken by label.
func TopEmotions(metrics []store.EmotionMetric, n int) []EmotionAverage {
	type acc struct {
		sum   float64
		count int
	}
	byLabel := make(map[string]*acc)
	for _, m := range metrics {
		label := strings.ToLower(strings.TrimSpace(m.EmotionType))
		if label == "" {
			continue
		}
		a, ok := byLabel[label]
		if !ok {
			a = &acc{}
			byLabel[label] = a
		}
		a.sum += m.Intensity
		a.count++
	}

	out := make([]EmotionAverage, 0, len(byLabel))
	for label, a := range byLabel {
		out = append(out, EmotionAverage{Emotion: label, Average: a.sum / float64(a.count), Samples: a.count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Average != out[j].Average {
			return out[i].Average > out[j].Average
		}
		return out[i].Emotion < out[j].Emotion
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// BucketCount is min(MaxTrendBuckets, m).
func BucketCount(m int) int {
	if m <= 0 {
		return 0
	}
	return min(MaxTrendBuckets, m)
}

// Trend splits messages, ordered by time, into BucketCount(len) buckets of
// near-equal size. Each bucket averages the six dimensions over its messages
// that carry emotion data; a message missing a dimension contributes zero.
// Buckets without emotion data are all zero.
func Trend(messages []store.Message) []TrendPoint {
	m := len(messages)
	b := BucketCount(m)
	if b == 0 {
		return []TrendPoint{}
	}

	ordered := append([]store.Message(nil), messages...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].CreatedAt.Before(ordered[j].CreatedAt) })

	points := make([]TrendPoint, b)
	for i := range b {
		lo, hi := i*m/b, (i+1)*m/b
		bucket := ordered[lo:hi]

		var sum Dimensions
		scored := 0
		for _, msg := range bucket {
			if len(msg.Emotions) == 0 {
				continue
			}
			scored++
			d := dimensionsOf(msg.Emotions)
			sum.Joy += d.Joy
			sum.Sadness += d.Sadness
			sum.Anger += d.Anger
			sum.Fear += d.Fear
			sum.Anxiety += d.Anxiety
			sum.Calmness += d.Calmness
		}

		p := TrendPoint{
			Bucket:   i,
			Start:    bucket[0].CreatedAt,
			End:      bucket[len(bucket)-1].CreatedAt,
			Messages: len(bucket),
		}
		if scored > 0 {
			n := float64(scored)
			p.Values = Dimensions{
				Joy:      round3(sum.Joy / n),
				Sadness:  round3(sum.Sadness / n),
				Anger:    round3(sum.Anger / n),
				Fear:     round3(sum.Fear / n),
				Anxiety:  round3(sum.Anxiety / n),
				Calmness: round3(sum.Calmness / n),
			}
		}
		points[i] = p
	}
	return points
}

// dimensionsOf reads the six labels case-insensitively.
func dimensionsOf(scores map[string]float64) Dimensions {
	var d Dimensions
	for label, v := range scores {
		switch strings.ToLower(label) {
		case "joy":
			d.Joy = v
		case "sadness":
			d.Sadness = v
		case "anger":
			d.Anger = v
		case "fear":
			d.Fear = v
		case "anxiety":
			d.Anxiety = v
		case "calmness":
			d.Calmness = v
		}
	}
	return d
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
