package tagger

import (
	"strings"
)

const DefaultColor = "#6366f1"

type Rule struct {
	Tag      string
	Color    string
	Keywords []string
}

// Rules is checked in order; DetectTags returns tags in this order too.
var Rules = []Rule{
	{"Dev", "#6366f1", []string{"react", "vue", "angular", "next.js", "nextjs", "typescript", "javascript", "python", "java", "golang", "rust", "programming", "coding", "developer", "software", "web dev", "frontend", "backend", "fullstack"}},
	{"Tutorial", "#10b981", []string{"tutorial", "guide", "how to", "learn", "course", "lesson", "walkthrough", "explained", "introduction", "beginner"}},
	{"Music", "#ec4899", []string{"music", "song", "album", "playlist", "audio", "lyrics", "official music video", "mv"}},
	{"Cooking", "#f59e0b", []string{"cooking", "recipe", "food", "baking", "kitchen", "chef", "meal", "cuisine"}},
	{"Gaming", "#8b5cf6", []string{"gaming", "gameplay", "game", "playthrough", "lets play", "walkthrough", "speedrun"}},
	{"Vlog", "#06b6d4", []string{"vlog", "daily", "life", "lifestyle", "day in the life"}},
	{"Tech Review", "#3b82f6", []string{"review", "unboxing", "comparison", "vs", "tech", "gadget", "product"}},
	{"Fitness", "#ef4444", []string{"fitness", "workout", "exercise", "gym", "health", "training"}},
	{"Comedy", "#f59e0b", []string{"comedy", "funny", "humor", "laugh", "meme", "parody"}},
	{"Podcast", "#64748b", []string{"podcast", "interview", "talk", "discussion", "conversation"}},
}

// DetectTags matches title against Rules as plain case-insensitive
// substrings. Each rule contributes its tag at most once.
func DetectTags(title string) []string {
	lower := strings.ToLower(title)

	var tags []string

	for _, rule := range Rules {
		for _, keyword := range rule.Keywords {
			if strings.Contains(lower, keyword) {
				tags = append(tags, rule.Tag)
				break
			}
		}
	}

	return tags
}

func ColorFor(tag string) string {
	for _, rule := range Rules {
		if rule.Tag == tag {
			return rule.Color
		}
	}

	return DefaultColor
}
