package render

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/JeromeFenwick/bili-sync/model"
)

// No example repo or ecosystem library in the retrieved pack targets
// Kodi/Jellyfin NFO generation; encoding/xml is the standard, idiomatic way
// to emit this shape of document and needs no third-party dependency.

type tvShowNFO struct {
	XMLName xml.Name `xml:"tvshow"`
	Title   string   `xml:"title"`
	Plot    string   `xml:"plot,omitempty"`
	Premier string   `xml:"premiered,omitempty"`
	UserID  string   `xml:"uniqueid"`
}

type episodeNFO struct {
	XMLName  xml.Name  `xml:"episodedetails"`
	Title    string    `xml:"title"`
	Season   int       `xml:"season"`
	Episode  int       `xml:"episode"`
	Aired    string    `xml:"aired,omitempty"`
	UserID   string    `xml:"uniqueid"`
	FileInfo *fileInfo `xml:"fileinfo,omitempty"`
}

type fileInfo struct {
	StreamDetails streamDetails `xml:"streamdetails"`
}

type streamDetails struct {
	Video videoStream `xml:"video"`
}

type videoStream struct {
	Width  int `xml:"width"`
	Height int `xml:"height"`
}

type personNFO struct {
	XMLName xml.Name `xml:"person"`
	Name    string   `xml:"name"`
	UserID  string   `xml:"uniqueid"`
}

// nfoTimestamp picks favtime or pubtime per timeType and formats it
// YYYY-MM-DD, the Kodi-conventional date-only form.
func nfoTimestamp(v model.Video, timeType model.NFOTimeType) string {
	t := v.Pubtime
	if timeType == model.NFOTimeFav {
		t = v.Favtime
	}
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func marshalNFO(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("render: marshal nfo: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// TVShowNFO renders a video's series-level tvshow.nfo.
func TVShowNFO(v model.Video, timeType model.NFOTimeType) ([]byte, error) {
	return marshalNFO(tvShowNFO{
		Title:   v.Name,
		Premier: nfoTimestamp(v, timeType),
		UserID:  v.Bvid,
	})
}

// EpisodeNFO renders one page's episode-level nfo. A fileinfo/streamdetails
// block is included only when the page's dimensions were both observed;
// a page with no width/height yields no Dimension object.
func EpisodeNFO(v model.Video, p model.Page, timeType model.NFOTimeType) ([]byte, error) {
	nfo := episodeNFO{
		Title:   p.Name,
		Season:  1,
		Episode: p.Pid,
		Aired:   nfoTimestamp(v, timeType),
		UserID:  fmt.Sprintf("%s_p%d", v.Bvid, p.Pid),
	}
	if p.Width != nil && p.Height != nil {
		nfo.FileInfo = &fileInfo{
			StreamDetails: streamDetails{
				Video: videoStream{Width: *p.Width, Height: *p.Height},
			},
		}
	}
	return marshalNFO(nfo)
}

// PersonNFO renders an uploader's person.nfo.
func PersonNFO(upperID, upperName string) ([]byte, error) {
	return marshalNFO(personNFO{
		Name:   upperName,
		UserID: upperID,
	})
}

// UpperAvatarDir returns the <upper_path>/<first-char>/<upper_id>
// directory for an uploader, per the on-disk layout.
func UpperAvatarDir(upperPath, upperID string) string {
	first := "_"
	if len(upperID) > 0 {
		first = string([]rune(upperID)[0])
	}
	return upperPath + "/" + first + "/" + upperID
}
