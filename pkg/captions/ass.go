package captions

import (
	"fmt"
	"strings"

	"github.com/z-wentao/capflow/pkg/models"
)

// ASS alignment codes (numpad layout): 2 = bottom center, 5 = middle
// center, 8 = top center.
func alignmentFor(pos models.StylePosition) int {
	switch pos {
	case models.PositionTop:
		return 8
	case models.PositionMiddle:
		return 5
	default:
		return 2
	}
}

// animationTag returns the override tag prepended to each dialogue line.
func animationTag(anim models.StyleAnimation) string {
	switch anim {
	case models.AnimationFade:
		return `{\fad(120,120)}`
	case models.AnimationPopIn:
		return `{\t(0,80,\fscx110\fscy110)\t(80,160,\fscx100\fscy100)}`
	default:
		return ""
	}
}

// renderASS writes a complete ASS document: script header, one style derived
// from the catalog entry, and one Dialogue event per cue.
func renderASS(cues []Cue, style models.CaptionStyle, frameWidth, frameHeight int) string {
	var b strings.Builder

	b.WriteString("[Script Info]\n")
	b.WriteString("ScriptType: v4.00+\n")
	fmt.Fprintf(&b, "PlayResX: %d\n", frameWidth)
	fmt.Fprintf(&b, "PlayResY: %d\n", frameHeight)
	b.WriteString("WrapStyle: 0\n")
	b.WriteString("ScaledBorderAndShadow: yes\n\n")

	bold := 0
	if style.Bold {
		bold = -1
	}
	marginV := frameHeight / 20

	b.WriteString("[V4+ Styles]\n")
	b.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	fmt.Fprintf(&b, "Style: Default,%s,%d,%s,%s,%s,&H00000000,%d,0,0,0,100,100,0,0,1,%.1f,0,%d,30,30,%d,1\n\n",
		style.FontName,
		style.FontSize,
		style.PrimaryColor,
		style.PrimaryColor,
		style.OutlineColor,
		bold,
		style.Outline,
		alignmentFor(style.Position),
		marginV,
	)

	tag := animationTag(style.Animation)

	b.WriteString("[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, cue := range cues {
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s%s\n",
			formatASSTime(cue.Start),
			formatASSTime(cue.End),
			tag,
			escapeText(cue.Text),
		)
	}

	return b.String()
}

// formatASSTime renders seconds as H:MM:SS.cc (centisecond precision).
func formatASSTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	centis := int(seconds*100 + 0.5)
	h := centis / 360000
	m := (centis % 360000) / 6000
	s := (centis % 6000) / 100
	cs := centis % 100
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs)
}
