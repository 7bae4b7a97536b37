package dispatcher

import (
	"fmt"

	"github.com/goatkit/beamhost/internal/config"
	"github.com/goatkit/beamhost/internal/pipeline"
	"github.com/goatkit/beamhost/internal/plugin/loader"
)

// BuildPipeline constructs a live pipeline.Pipeline from parsed
// configuration, resolving each plugin's library URL via ld.
func BuildPipeline(items []config.PipelineItem, ld *loader.Loader) (*pipeline.Pipeline, error) {
	built, err := buildItems(items, ld)
	if err != nil {
		return nil, err
	}
	return &pipeline.Pipeline{Items: built}, nil
}

func buildItems(items []config.PipelineItem, ld *loader.Loader) ([]pipeline.Item, error) {
	out := make([]pipeline.Item, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case config.PluginConfig:
			p, err := ld.Build(v.Library, v.Config)
			if err != nil {
				return nil, fmt.Errorf("dispatcher: build plugin %s: %w", v.Library, err)
			}
			out = append(out, pipeline.PluginItem{Plugin: p})

		case config.NestedPipelineConfig:
			sub, err := buildItems(v.Items, ld)
			if err != nil {
				return nil, err
			}
			out = append(out, pipeline.DirectoryPipeline{Prefix: v.Prefix, Items: sub})

		default:
			return nil, fmt.Errorf("dispatcher: unrecognized pipeline item %T", it)
		}
	}
	return out, nil
}
