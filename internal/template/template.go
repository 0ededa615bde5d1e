// Package template maps a content kind and a target format key to the
// rendering engine's composition id and canvas geometry.
//
// The table is static and read-only at runtime. Lookups never fail: an
// unknown format key degrades to the landscape layout and an unknown content
// kind degrades to the text-only family.
package template

import (
	"math"
	"sort"
	"strings"
)

// FPS is the frame rate every composition is rendered at.
const FPS = 30

// ContentKind selects the template family.
type ContentKind string

const (
	// KindText renders title and subtitle over a solid background color.
	KindText ContentKind = "text-only"
	// KindImage renders text over a background image with optional music and logo.
	KindImage ContentKind = "image-background"
	// KindVideo renders text over a background video with optional music and logo.
	KindVideo ContentKind = "video-background"
)

// ParseContentKind normalizes client input into a ContentKind.
// Unknown values map to KindText.
func ParseContentKind(s string) ContentKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "image", "image-background":
		return KindImage
	case "video", "video-background":
		return KindVideo
	default:
		return KindText
	}
}

// Layout is a canvas preset shared by one or more format keys.
type Layout string

const (
	LayoutLandscape        Layout = "landscape"
	LayoutYouTube          Layout = "youtube"
	LayoutInstagramPost    Layout = "instagram-post"
	LayoutInstagramStories Layout = "instagram-stories"
	LayoutTikTok           Layout = "tiktok"
)

// DefaultFormatKey is used whenever a client sends an unknown format key.
const DefaultFormatKey = "landscape"

// Geometry is the pixel canvas of a composition.
type Geometry struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	AspectRatio string `json:"aspect_ratio"`
	FPS         int    `json:"fps"`
}

// Template is a resolved composition.
type Template struct {
	ID                    string      `json:"id"`
	Kind                  ContentKind `json:"kind"`
	Layout                Layout      `json:"layout"`
	Geometry              Geometry    `json:"geometry"`
	DefaultDurationFrames int         `json:"default_duration_frames"`
}

var (
	landscape = Geometry{Width: 1920, Height: 1080, AspectRatio: "16:9", FPS: FPS}
	square    = Geometry{Width: 1080, Height: 1080, AspectRatio: "1:1", FPS: FPS}
	vertical  = Geometry{Width: 1080, Height: 1920, AspectRatio: "9:16", FPS: FPS}
)

// formatLayouts maps every accepted format key to its layout.
var formatLayouts = map[string]Layout{
	"landscape":         LayoutLandscape,
	"youtube":           LayoutYouTube,
	"instagram-post":    LayoutInstagramPost,
	"square":            LayoutInstagramPost,
	"instagram-stories": LayoutInstagramStories,
	"instagram-reels":   LayoutInstagramStories,
	"stories":           LayoutInstagramStories,
	"tiktok":            LayoutTikTok,
	"youtube-shorts":    LayoutTikTok,
}

var layoutGeometry = map[Layout]Geometry{
	LayoutLandscape:        landscape,
	LayoutYouTube:          landscape,
	LayoutInstagramPost:    square,
	LayoutInstagramStories: vertical,
	LayoutTikTok:           vertical,
}

// Composition ids registered by the rendering engine.
const (
	compText                = "VideoTextoSimples"
	compImage               = "VideoImagemTituloSubtituloMusica"
	compImageInstagramPost  = "VideoImagemTituloSubtituloMusicaInstagramPost"
	compImageInstagramStory = "VideoImagemTituloSubtituloMusicaInstagramStories"
	compVideo               = "VideoTituloSubtituloMusica"
	compVideoInstagramPost  = "VideoTituloSubtituloMusicaInstagramPost"
	compVideoInstagramStory = "VideoTituloSubtituloMusicaInstagramStories"
	compVideoTikTok         = "VideoTituloSubtituloMusicaTikTok"
	compVideoYouTube        = "VideoTituloSubtituloMusicaYouTube"
)

type composition struct {
	geometry Geometry
	frames   int
}

// compositions mirrors the engine's registry. Every id in table must be here.
var compositions = map[string]composition{
	compText:                {landscape, 150},
	compImage:               {landscape, 300},
	compImageInstagramPost:  {square, 300},
	compImageInstagramStory: {vertical, 300},
	compVideo:               {landscape, 300},
	compVideoInstagramPost:  {square, 300},
	compVideoInstagramStory: {vertical, 300},
	compVideoTikTok:         {vertical, 900},
	compVideoYouTube:        {landscape, 900},
}

// table is the family × layout cross-product of composition ids. The engine
// has no dedicated text compositions beyond landscape, and the media
// compositions fall back to a solid background when no media is supplied, so
// those cells borrow the media composition with the same canvas. The image
// family likewise reuses its stories and landscape canvases.
var table = map[ContentKind]map[Layout]string{
	KindText: {
		LayoutLandscape:        compText,
		LayoutYouTube:          compVideoYouTube,
		LayoutInstagramPost:    compImageInstagramPost,
		LayoutInstagramStories: compImageInstagramStory,
		LayoutTikTok:           compVideoTikTok,
	},
	KindImage: {
		LayoutLandscape:        compImage,
		LayoutYouTube:          compImage,
		LayoutInstagramPost:    compImageInstagramPost,
		LayoutInstagramStories: compImageInstagramStory,
		LayoutTikTok:           compImageInstagramStory,
	},
	KindVideo: {
		LayoutLandscape:        compVideo,
		LayoutYouTube:          compVideoYouTube,
		LayoutInstagramPost:    compVideoInstagramPost,
		LayoutInstagramStories: compVideoInstagramStory,
		LayoutTikTok:           compVideoTikTok,
	},
}

// LayoutFor returns the layout for a format key, falling back to landscape.
func LayoutFor(formatKey string) Layout {
	if l, ok := formatLayouts[strings.ToLower(strings.TrimSpace(formatKey))]; ok {
		return l
	}
	return formatLayouts[DefaultFormatKey]
}

// Select returns the composition for a content kind and format key.
func Select(kind ContentKind, formatKey string) Template {
	family, ok := table[kind]
	if !ok {
		kind = KindText
		family = table[KindText]
	}
	layout := LayoutFor(formatKey)
	id := family[layout]
	return Template{
		ID:                    id,
		Kind:                  kind,
		Layout:                layout,
		Geometry:              layoutGeometry[layout],
		DefaultDurationFrames: compositions[id].frames,
	}
}

// Frames converts a duration in seconds to a frame count at fps.
// The result is rounded up and never below one frame.
func Frames(seconds float64, fps int) int {
	if fps <= 0 {
		fps = FPS
	}
	n := int(math.Ceil(seconds * float64(fps)))
	if n < 1 {
		return 1
	}
	return n
}

// FormatKeys returns every accepted format key in sorted order.
func FormatKeys() []string {
	keys := make([]string, 0, len(formatLayouts))
	for k := range formatLayouts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Catalogue returns every template keyed by format key for the given kind.
func Catalogue(kind ContentKind) map[string]Template {
	out := make(map[string]Template, len(formatLayouts))
	for k := range formatLayouts {
		out[k] = Select(kind, k)
	}
	return out
}
