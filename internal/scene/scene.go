// Package scene maps upload purposes to their storage directories and upload
// policies. The registry is built once at startup and is read-only afterwards.
package scene

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/maneesh/blogmedia/internal/mediaerr"
)

// Scene is a semantic upload purpose.
type Scene string

const (
	ArticleImage      Scene = "article_image"
	ArticleCover      Scene = "article_cover"
	ArticleCoverThumb Scene = "article_cover_thumb"
	UserAvatar        Scene = "user_avatar"
	AlbumCover        Scene = "album_cover"
	AlbumCoverThumb   Scene = "album_cover_thumb"
	PhotoImage        Scene = "photo_image"
)

// Policy is the ingestion policy of a scene.
type Policy struct {
	AllowedMIME []string
	AllowedExt  []string // lower case, with leading dot
	MaxSize     int64    // bytes
	MaxCount    int
	Compress    bool
	Format      string // target format for re-encoding; empty keeps the source format
	Quality     int
}

// ThumbSpec describes a derived thumbnail.
type ThumbSpec struct {
	Width   int
	Height  int
	Format  string
	Quality int
}

// Thumbnail configures derived assets for a scene. When Scene is empty the
// thumbnail is written beside the primary asset.
type Thumbnail struct {
	Spec  ThumbSpec
	Scene Scene
}

// Template is the immutable configuration of one scene.
type Template struct {
	BaseDir         string
	DatePartitioned bool
	Policy          Policy
	Thumbnail       *Thumbnail
}

// Registry resolves scenes to templates.
type Registry struct {
	templates map[Scene]Template
}

// NewRegistry validates templates and returns a read-only registry.
func NewRegistry(templates map[Scene]Template) (*Registry, error) {
	if len(templates) == 0 {
		return nil, fmt.Errorf("scene registry: no scenes configured")
	}
	owned := make(map[Scene]Template, len(templates))
	dirs := make(map[string]Scene, len(templates))
	for s, tpl := range templates {
		base := strings.Trim(path.Clean("/"+strings.TrimSpace(tpl.BaseDir)), "/")
		if base == "" || strings.Contains(tpl.BaseDir, "..") {
			return nil, fmt.Errorf("scene registry: scene %q has invalid base dir %q", s, tpl.BaseDir)
		}
		if other, ok := dirs[base]; ok {
			return nil, fmt.Errorf("scene registry: scenes %q and %q share base dir %q", other, s, base)
		}
		dirs[base] = s
		tpl.BaseDir = base
		tpl.Policy.AllowedMIME = append([]string(nil), tpl.Policy.AllowedMIME...)
		tpl.Policy.AllowedExt = append([]string(nil), tpl.Policy.AllowedExt...)
		if tpl.Thumbnail != nil {
			th := *tpl.Thumbnail
			tpl.Thumbnail = &th
		}
		owned[s] = tpl
	}
	for s, tpl := range owned {
		if tpl.Thumbnail == nil || tpl.Thumbnail.Scene == "" {
			continue
		}
		if _, ok := owned[tpl.Thumbnail.Scene]; !ok {
			return nil, fmt.Errorf("scene registry: scene %q references unknown thumbnail scene %q", s, tpl.Thumbnail.Scene)
		}
	}
	return &Registry{templates: owned}, nil
}

// Template returns the template of s.
func (r *Registry) Template(s Scene) (Template, error) {
	tpl, ok := r.templates[s]
	if !ok {
		return Template{}, mediaerr.BadRequest("scene", "UNKNOWN_SCENE", fmt.Sprintf("unknown scene %q", s))
	}
	return tpl, nil
}

// TargetDir returns the slash-separated directory of s for time at.
func (r *Registry) TargetDir(s Scene, at time.Time) (string, error) {
	tpl, err := r.Template(s)
	if err != nil {
		return "", err
	}
	return tpl.dir(at), nil
}

// Scenes returns all configured scenes in lexical order.
func (r *Registry) Scenes() []Scene {
	out := make([]Scene, 0, len(r.templates))
	for s := range r.templates {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t Template) dir(at time.Time) string {
	if !t.DatePartitioned {
		return t.BaseDir
	}
	return path.Join(t.BaseDir, fmt.Sprintf("%04d", at.Year()), fmt.Sprintf("%02d", int(at.Month())))
}

// Partition returns the date partition suffix ("YYYY/MM") of a relative path
// produced by TargetDir for s, or "" when s is not date partitioned.
func (r *Registry) Partition(s Scene, rel string) string {
	tpl, ok := r.templates[s]
	if !ok || !tpl.DatePartitioned {
		return ""
	}
	rest := strings.TrimPrefix(path.Dir(rel), tpl.BaseDir+"/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || len(parts[0]) != 4 || len(parts[1]) != 2 {
		return ""
	}
	return rest
}
