package config

import (
	"fmt"
	"strings"

	"github.com/maneesh/blogmedia/internal/scene"
)

const mb = 1 << 20

// SceneTemplates returns the built-in scene table with the global compression
// defaults and the per-scene overrides applied.
func (c *Config) SceneTemplates() (map[scene.Scene]scene.Template, error) {
	templates := scene.Defaults()
	for s, tpl := range templates {
		if tpl.Policy.Compress {
			tpl.Policy.Format = c.CompressFormat
			tpl.Policy.Quality = c.CompressQuality
		}
		templates[s] = tpl
	}

	for name, o := range c.Scenes {
		s := scene.Scene(strings.ToLower(name))
		tpl, exists := templates[s]
		if !exists {
			if o.BaseDir == "" {
				return nil, fmt.Errorf("scene %q: base_dir is required for a new scene", name)
			}
			tpl.Policy.Format = c.CompressFormat
			tpl.Policy.Quality = c.CompressQuality
		}
		templates[s] = o.apply(tpl)
	}
	return templates, nil
}

// Registry builds the scene registry from SceneTemplates.
func (c *Config) Registry() (*scene.Registry, error) {
	templates, err := c.SceneTemplates()
	if err != nil {
		return nil, err
	}
	return scene.NewRegistry(templates)
}

func (o SceneOverride) apply(tpl scene.Template) scene.Template {
	if o.BaseDir != "" {
		tpl.BaseDir = o.BaseDir
	}
	if o.DatePartitioned != nil {
		tpl.DatePartitioned = *o.DatePartitioned
	}
	if len(o.AllowedExt) > 0 {
		tpl.Policy.AllowedExt = normalizeExts(o.AllowedExt)
	}
	if len(o.AllowedMIME) > 0 {
		tpl.Policy.AllowedMIME = o.AllowedMIME
	}
	if o.MaxSizeMB > 0 {
		tpl.Policy.MaxSize = o.MaxSizeMB * mb
	}
	if o.MaxCount > 0 {
		tpl.Policy.MaxCount = o.MaxCount
	}
	if o.Compress != nil {
		tpl.Policy.Compress = *o.Compress
	}
	if o.Format != "" {
		tpl.Policy.Format = o.Format
	}
	if o.Quality > 0 {
		tpl.Policy.Quality = o.Quality
	}
	if t := o.Thumbnail; t != nil {
		thumb := &scene.Thumbnail{}
		if tpl.Thumbnail != nil {
			*thumb = *tpl.Thumbnail
		}
		if t.Width > 0 {
			thumb.Spec.Width = t.Width
		}
		if t.Height > 0 {
			thumb.Spec.Height = t.Height
		}
		if t.Format != "" {
			thumb.Spec.Format = t.Format
		}
		if t.Quality > 0 {
			thumb.Spec.Quality = t.Quality
		}
		if t.Scene != "" {
			thumb.Scene = scene.Scene(t.Scene)
		}
		tpl.Thumbnail = thumb
	}
	return tpl
}

func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}
