package facts

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
)

const (
	searchTimeout  = 10 * time.Second
	maxHintRunes   = 400
	maxSearchWords = 12
)

// Service resolves fact hints for time-sensitive questions. The pinned
// table answers instantly; anything else that looks time-sensitive goes
// through whichever web search providers are configured.
type Service struct {
	google tool.InvokableTool
	duck   tool.InvokableTool
}

func NewService(ctx context.Context) *Service {
	return &Service{
		google: initGoogleSearch(ctx),
		duck:   initDDGSearch(ctx),
	}
}

// Hint returns a short verified-fact string for the query, or "" when the
// query is not time-sensitive or no source can answer it.
func (s *Service) Hint(ctx context.Context, query string) string {
	if fact, ok := Lookup(query); ok {
		return fact
	}
	if !timeSensitive(query) {
		return ""
	}
	result := s.search(ctx, query)
	return clipHint(result)
}

func (s *Service) search(ctx context.Context, query string) string {
	if s == nil || (s.google == nil && s.duck == nil) {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	payloadBytes, err := json.Marshal(map[string]string{"query": trimQuery(query)})
	if err != nil {
		return ""
	}
	payload := string(payloadBytes)

	if s.google != nil {
		if result, err := s.google.InvokableRun(ctx, payload); err == nil && result != "" {
			return result
		} else if err != nil {
			log.Printf("google search failed: %v", err)
		}
	}
	if s.duck != nil {
		if result, err := s.duck.InvokableRun(ctx, payload); err == nil && result != "" {
			return result
		} else if err != nil {
			log.Printf("duckduckgo search failed: %v", err)
		}
	}
	return ""
}

var timeSensitiveMarkers = []string{
	"current", "latest", "today", "now", "recent",
	"this year", "who is the", "president", "prime minister",
	"chief minister", " cm ", " cm?", "governor",
}

func timeSensitive(query string) bool {
	lower := " " + strings.ToLower(query) + " "
	for _, marker := range timeSensitiveMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// trimQuery keeps the search payload short; long tutoring prompts make
// terrible search queries.
func trimQuery(query string) string {
	words := strings.Fields(query)
	if len(words) > maxSearchWords {
		words = words[:maxSearchWords]
	}
	return strings.Join(words, " ")
}

func clipHint(result string) string {
	result = strings.TrimSpace(result)
	if result == "" {
		return ""
	}
	runes := []rune(result)
	if len(runes) > maxHintRunes {
		result = string(runes[:maxHintRunes])
	}
	return result
}

func initDDGSearch(ctx context.Context) tool.InvokableTool {
	duckTool, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    searchTimeout,
	})
	if err != nil {
		log.Printf("duckduckgo search disabled: %v", err)
		return nil
	}
	return duckTool
}

func initGoogleSearch(ctx context.Context) tool.InvokableTool {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	engineID := os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
	if apiKey == "" || engineID == "" {
		log.Printf("google search disabled: missing GOOGLE_API_KEY or GOOGLE_SEARCH_ENGINE_ID")
		return nil
	}
	googleTool, err := googlesearch.NewTool(ctx, &googlesearch.Config{
		ToolName:       "web_search_google",
		ToolDesc:       "Google Search Tool",
		APIKey:         apiKey,
		SearchEngineID: engineID,
		Lang:           "en",
		Num:            5,
	})
	if err != nil {
		log.Printf("google search disabled: %v", err)
		return nil
	}
	return googleTool
}
