package models

import "fmt"

// StylePosition anchors captions vertically in the frame.
type StylePosition string

const (
	PositionTop    StylePosition = "top"
	PositionMiddle StylePosition = "middle"
	PositionBottom StylePosition = "bottom"
)

// StyleAnimation is the per-cue entrance effect.
type StyleAnimation string

const (
	AnimationNone  StyleAnimation = "none"
	AnimationFade  StyleAnimation = "fade"
	AnimationPopIn StyleAnimation = "pop_in"
)

// CaptionStyle is an immutable entry in the fixed style catalog. Only the
// ID crosses job boundaries; workers resolve it back through StyleByID.
type CaptionStyle struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	FontName     string         `json:"font_name"`
	FontSize     int            `json:"font_size"` // at 1080p reference height
	PrimaryColor string         `json:"primary_color"`
	OutlineColor string         `json:"outline_color"`
	Outline      float64        `json:"outline"`
	Bold         bool           `json:"bold"`
	Position     StylePosition  `json:"position"`
	Animation    StyleAnimation `json:"animation"`
	MaxWordsLine int            `json:"max_words_per_line"`
}

// styleCatalog is the fixed set of selectable styles. Colors are ASS
// &HAABBGGRR values.
var styleCatalog = []CaptionStyle{
	{
		ID:           "classic",
		Name:         "Classic",
		FontName:     "Arial",
		FontSize:     54,
		PrimaryColor: "&H00FFFFFF",
		OutlineColor: "&H00000000",
		Outline:      2.0,
		Bold:         false,
		Position:     PositionBottom,
		Animation:    AnimationNone,
		MaxWordsLine: 7,
	},
	{
		ID:           "bold_pop",
		Name:         "Bold Pop",
		FontName:     "Montserrat",
		FontSize:     72,
		PrimaryColor: "&H00FFFFFF",
		OutlineColor: "&H00000000",
		Outline:      3.0,
		Bold:         true,
		Position:     PositionMiddle,
		Animation:    AnimationPopIn,
		MaxWordsLine: 4,
	},
	{
		ID:           "neon",
		Name:         "Neon",
		FontName:     "Impact",
		FontSize:     64,
		PrimaryColor: "&H0000FFFF",
		OutlineColor: "&H00FF00FF",
		Outline:      2.5,
		Bold:         true,
		Position:     PositionBottom,
		Animation:    AnimationFade,
		MaxWordsLine: 5,
	},
	{
		ID:           "minimal",
		Name:         "Minimal",
		FontName:     "Helvetica",
		FontSize:     48,
		PrimaryColor: "&H00FFFFFF",
		OutlineColor: "&H64000000",
		Outline:      1.0,
		Bold:         false,
		Position:     PositionTop,
		Animation:    AnimationFade,
		MaxWordsLine: 8,
	},
}

// Styles returns the full style catalog.
func Styles() []CaptionStyle {
	out := make([]CaptionStyle, len(styleCatalog))
	copy(out, styleCatalog)
	return out
}

// StyleByID resolves a catalog entry.
func StyleByID(id string) (CaptionStyle, error) {
	for _, s := range styleCatalog {
		if s.ID == id {
			return s, nil
		}
	}
	return CaptionStyle{}, fmt.Errorf("unknown caption style: %s", id)
}
