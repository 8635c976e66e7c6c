package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/JeromeFenwick/bili-sync/remote"
)

const assHeader = `[Script Info]
ScriptType: v4.00+
PlayResX: 1920
PlayResY: 1080

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Danmaku,%s,%d,&H00FFFFFF,&H000000FF,&H00000000,&H00000000,0,0,0,0,100,100,0,0,1,1,0,2,10,10,10,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`

// ASS renders danmaku entries into an ASS subtitle track. Scroll-mode
// entries (the common case) are given a right-to-left Banner effect; top (5)
// and bottom (4) modes are rendered as stationary lines.
func ASS(entries []remote.DanmakuEntry, font string, fontSize int, duration time.Duration) []byte {
	if font == "" {
		font = "SimHei"
	}
	if fontSize <= 0 {
		fontSize = 36
	}
	if duration <= 0 {
		duration = 8 * time.Second
	}
	var b strings.Builder
	fmt.Fprintf(&b, assHeader, font, fontSize)
	for _, e := range entries {
		start := e.Timestamp
		end := start + duration
		color := bgrFromRGB(e.Color)
		effect := ""
		switch e.Mode {
		case 4, 5:
			effect = ""
		default:
			effect = fmt.Sprintf("Effect: Banner;%d;0;0", duration.Milliseconds())
		}
		text := strings.ReplaceAll(e.Content, "\n", "\\N")
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Danmaku,,0,0,0,%s,{\\c%s}%s\n",
			assTimestamp(start), assTimestamp(end), effect, color, text)
	}
	return []byte(b.String())
}

func assTimestamp(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	cs := (d.Milliseconds() % 1000) / 10
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs)
}

// bgrFromRGB converts the platform's 0xRRGGBB danmaku color into ASS's
// &HBBGGRR& ordering.
func bgrFromRGB(rgb uint32) string {
	r := (rgb >> 16) & 0xFF
	g := (rgb >> 8) & 0xFF
	b := rgb & 0xFF
	return fmt.Sprintf("&H%02X%02X%02X&", b, g, r)
}

// SRT renders one official subtitle track into SRT format.
func SRT(sub remote.Subtitle) []byte {
	var b strings.Builder
	for i, cue := range sub.Cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, srtTimestamp(cue.From), srtTimestamp(cue.To), cue.Content)
	}
	return []byte(b.String())
}

func srtTimestamp(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := d.Milliseconds() % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
