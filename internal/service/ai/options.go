package ai

import (
	"sort"

	"github.com/cloudwego/eino/components/model"
)

type genOpts struct {
	temperature float32
	maxTokens   int
}

// Per-model generation settings for the small local models; anything unknown
// gets the defaults.
var modelOptions = map[string]genOpts{
	"llama3.2:3b": {temperature: 0.5, maxTokens: 200},
	"gemma2:2b":   {temperature: 0.5, maxTokens: 150},
	"phi3:mini":   {temperature: 0.5, maxTokens: 150},
}

var defaultOpts = genOpts{temperature: 0.5, maxTokens: 300}

// KnownModels lists the models with curated generation settings.
func KnownModels() []string {
	names := make([]string, 0, len(modelOptions))
	for name := range modelOptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OptionsFor returns the generation options for a model identifier.
func OptionsFor(modelName string) []model.Option {
	opts, ok := modelOptions[modelName]
	if !ok {
		opts = defaultOpts
	}
	return []model.Option{
		model.WithTemperature(opts.temperature),
		model.WithMaxTokens(opts.maxTokens),
	}
}
