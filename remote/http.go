package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/JeromeFenwick/bili-sync/model"
)

// HTTPClient is a Client implementation talking to the remote platform's
// HTTP API. It retries transient failures with jittered exponential
// backoff and classifies risk-control/not-found responses per the
// platform's own status-code convention (0 success, -412 risk control,
// -404/62002 not found/gone).
type HTTPClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// MaxRetries bounds withRetry's retry budget for every request this
	// client makes. The candidate URLs FetchDownloadURLs returns are
	// downloaded by the caller and are not retried here.
	MaxRetries int
	BaseDelay  time.Duration
}

// NewHTTPClient builds an HTTPClient with sane retry defaults.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		MaxRetries: 5,
		BaseDelay:  500 * time.Millisecond,
	}
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// withRetry runs fn up to c.MaxRetries+1 times, backing off exponentially
// with full jitter between attempts. It does not retry ErrRiskControl,
// ErrNotFound, or ErrGone — those are terminal classifications the caller
// must see immediately.
func (c *HTTPClient) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if err == ErrRiskControl || err == ErrNotFound || err == ErrGone {
			return err
		}
		if attempt == c.MaxRetries {
			break
		}
		delay := c.BaseDelay * time.Duration(1<<uint(attempt))
		delay = time.Duration(rand.Int63n(int64(delay))) + delay/2
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("remote: exhausted retries: %w", lastErr)
}

func classifyStatusCode(code int) error {
	switch code {
	case 0:
		return nil
	case -412, -352:
		return ErrRiskControl
	case -404:
		return ErrNotFound
	case 62002, 62012:
		return ErrGone
	default:
		return fmt.Errorf("remote: unexpected response code %d", code)
	}
}

func (c *HTTPClient) doJSON(ctx context.Context, req *http.Request, out interface{}) error {
	resp, err := c.HTTPClient.Do(req.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("remote: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("remote: server error %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("remote: read body: %w", err)
	}

	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("remote: decode envelope: %w", err)
	}
	if err := classifyStatusCode(env.Code); err != nil {
		return err
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("remote: decode data: %w", err)
		}
	}
	return nil
}

func (c *HTTPClient) newRequest(ctx context.Context, path string, query url.Values, cred model.Credential) (*http.Request, error) {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cookie", fmt.Sprintf("SESSDATA=%s; bili_jct=%s; buvid3=%s; DedeUserID=%s",
		cred.SessData, cred.BiliJCT, cred.Buvid3, cred.DedeUserID))
	req.Header.Set("User-Agent", "bili-sync/1.0")
	return req, nil
}

func (c *HTTPClient) EnumerateSource(ctx context.Context, src model.VideoSource, cred model.Credential) ([]SourceItem, error) {
	var items []SourceItem
	path := sourceEndpoint(src)
	err := c.withRetry(ctx, func() error {
		req, err := c.newRequest(ctx, path, sourceQuery(src), cred)
		if err != nil {
			return err
		}
		var payload struct {
			Items []sourceItemDTO `json:"items"`
		}
		if err := c.doJSON(ctx, req, &payload); err != nil {
			return err
		}
		items = make([]SourceItem, 0, len(payload.Items))
		for _, it := range payload.Items {
			items = append(items, it.toSourceItem())
		}
		return nil
	})
	return items, err
}

type sourceItemDTO struct {
	Bvid      string `json:"bvid"`
	Title     string `json:"title"`
	UpperMid  string `json:"upper_mid"`
	UpperName string `json:"upper_name"`
	Pubtime   int64  `json:"pubtime"`
	Favtime   int64  `json:"fav_time"`
}

func (d sourceItemDTO) toSourceItem() SourceItem {
	return SourceItem{
		Bvid:      d.Bvid,
		Name:      d.Title,
		UpperID:   d.UpperMid,
		UpperName: d.UpperName,
		Pubtime:   time.Unix(d.Pubtime, 0),
		Favtime:   time.Unix(d.Favtime, 0),
	}
}

func sourceEndpoint(src model.VideoSource) string {
	switch src.Kind {
	case model.Collection:
		return "/x/space/fav/season/list"
	case model.Favorite:
		return "/x/v3/fav/resource/list"
	case model.Submission:
		return "/x/space/arc/search"
	case model.WatchLater:
		return "/x/v2/history/toview"
	default:
		return "/x/unknown"
	}
}

func sourceQuery(src model.VideoSource) url.Values {
	q := url.Values{}
	switch src.Kind {
	case model.Collection:
		q.Set("season_id", src.Fid)
		q.Set("mid", src.Mid)
	case model.Favorite:
		q.Set("media_id", src.Fid)
	case model.Submission:
		q.Set("mid", src.Mid)
	}
	return q
}

func (c *HTTPClient) FetchVideoDetail(ctx context.Context, bvid string, cred model.Credential) (VideoDetail, error) {
	var detail VideoDetail
	err := c.withRetry(ctx, func() error {
		req, err := c.newRequest(ctx, "/x/web-interface/view", url.Values{"bvid": {bvid}}, cred)
		if err != nil {
			return err
		}
		var payload struct {
			IsPaid bool `json:"is_upower_exclusive"`
			Pages  []struct {
				Page     int    `json:"page"`
				Cid      string `json:"cid"`
				Part     string `json:"part"`
				Duration int    `json:"duration"`
				Dimension *struct {
					Width  int `json:"width"`
					Height int `json:"height"`
				} `json:"dimension"`
			} `json:"pages"`
		}
		if err := c.doJSON(ctx, req, &payload); err != nil {
			return err
		}
		detail.IsPaid = payload.IsPaid
		detail.SinglePage = len(payload.Pages) <= 1
		detail.Pages = make([]PageDetail, 0, len(payload.Pages))
		for _, p := range payload.Pages {
			pd := PageDetail{
				Pid:      p.Page,
				Cid:      p.Cid,
				Name:     p.Part,
				Duration: time.Duration(p.Duration) * time.Second,
			}
			if p.Dimension != nil {
				w, h := p.Dimension.Width, p.Dimension.Height
				pd.Width, pd.Height = &w, &h
			}
			detail.Pages = append(detail.Pages, pd)
		}
		return nil
	})
	return detail, err
}

func (c *HTTPClient) FetchDownloadURLs(ctx context.Context, cid string, cred model.Credential) ([]string, error) {
	var urls []string
	err := c.withRetry(ctx, func() error {
		req, err := c.newRequest(ctx, "/x/player/playurl", url.Values{"cid": {cid}, "fnval": {"16"}}, cred)
		if err != nil {
			return err
		}
		var payload struct {
			Durl []struct {
				URL        string   `json:"url"`
				BackupURLs []string `json:"backup_url"`
			} `json:"durl"`
		}
		if err := c.doJSON(ctx, req, &payload); err != nil {
			return err
		}
		for _, d := range payload.Durl {
			urls = append(urls, d.URL)
			urls = append(urls, d.BackupURLs...)
		}
		if len(urls) == 0 {
			return fmt.Errorf("remote: no download urls returned for cid %s", cid)
		}
		return nil
	})
	return urls, err
}

func (c *HTTPClient) FetchDanmaku(ctx context.Context, cid string, cred model.Credential) ([]DanmakuEntry, error) {
	var entries []DanmakuEntry
	err := c.withRetry(ctx, func() error {
		req, err := c.newRequest(ctx, "/x/v1/dm/list.so", url.Values{"oid": {cid}}, cred)
		if err != nil {
			return err
		}
		var payload struct {
			Danmaku []struct {
				P       string `json:"p"` // "time,mode,size,color,..."
				Content string `json:"content"`
			} `json:"danmaku"`
		}
		if err := c.doJSON(ctx, req, &payload); err != nil {
			return err
		}
		for _, d := range payload.Danmaku {
			entry, ok := parseDanmakuP(d.P, d.Content)
			if ok {
				entries = append(entries, entry)
			}
		}
		return nil
	})
	return entries, err
}

func parseDanmakuP(p, content string) (DanmakuEntry, bool) {
	fields := splitComma(p)
	if len(fields) < 4 {
		return DanmakuEntry{}, false
	}
	tsSeconds, err1 := strconv.ParseFloat(fields[0], 64)
	mode, err2 := strconv.Atoi(fields[1])
	size, err3 := strconv.Atoi(fields[2])
	color, err4 := strconv.ParseUint(fields[3], 10, 32)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return DanmakuEntry{}, false
	}
	return DanmakuEntry{
		Timestamp: time.Duration(tsSeconds * float64(time.Second)),
		Mode:      mode,
		FontSize:  size,
		Color:     uint32(color),
		Content:   content,
	}, true
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func (c *HTTPClient) FetchSubtitles(ctx context.Context, cid string, cred model.Credential) ([]Subtitle, error) {
	var subs []Subtitle
	err := c.withRetry(ctx, func() error {
		req, err := c.newRequest(ctx, "/x/player/v2", url.Values{"cid": {cid}}, cred)
		if err != nil {
			return err
		}
		var payload struct {
			Subtitle struct {
				Subtitles []struct {
					Lang string `json:"lan"`
					URL  string `json:"subtitle_url"`
				} `json:"subtitles"`
			} `json:"subtitle"`
		}
		if err := c.doJSON(ctx, req, &payload); err != nil {
			return err
		}
		for _, s := range payload.Subtitle.Subtitles {
			cues, err := c.fetchSubtitleCues(ctx, s.URL)
			if err != nil {
				return err
			}
			subs = append(subs, Subtitle{Lang: s.Lang, Cues: cues})
		}
		return nil
	})
	return subs, err
}

func (c *HTTPClient) fetchSubtitleCues(ctx context.Context, rawURL string) ([]SubtitleCue, error) {
	if rawURL == "" {
		return nil, nil
	}
	if len(rawURL) >= 2 && rawURL[:2] == "//" {
		rawURL = "https:" + rawURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: fetch subtitle body: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Body []struct {
			From    float64 `json:"from"`
			To      float64 `json:"to"`
			Content string  `json:"content"`
		} `json:"body"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("remote: decode subtitle body: %w", err)
	}
	cues := make([]SubtitleCue, 0, len(payload.Body))
	for _, b := range payload.Body {
		cues = append(cues, SubtitleCue{
			From:    time.Duration(b.From * float64(time.Second)),
			To:      time.Duration(b.To * float64(time.Second)),
			Content: b.Content,
		})
	}
	return cues, nil
}

func (c *HTTPClient) fetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	err := c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return fmt.Errorf("remote: fetch %s: %w", rawURL, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("remote: server error %d fetching %s", resp.StatusCode, rawURL)
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	return body, err
}

func (c *HTTPClient) FetchCover(ctx context.Context, bvid string) ([]byte, error) {
	return c.fetchBytes(ctx, c.BaseURL+"/covers/"+bvid+".jpg")
}

func (c *HTTPClient) FetchUpperAvatar(ctx context.Context, upperID string) ([]byte, error) {
	return c.fetchBytes(ctx, c.BaseURL+"/avatars/"+upperID+".jpg")
}

func (c *HTTPClient) RefreshCredential(ctx context.Context, cred model.Credential) (model.Credential, bool, error) {
	var result struct {
		Refreshed bool   `json:"refresh"`
		TimeStamp string `json:"timestamp"`
	}
	err := c.withRetry(ctx, func() error {
		req, err := c.newRequest(ctx, "/x/passport-login/web/cookie/info", nil, cred)
		if err != nil {
			return err
		}
		return c.doJSON(ctx, req, &result)
	})
	if err != nil {
		return cred, false, err
	}
	if !result.Refreshed {
		return cred, false, nil
	}
	next := cred
	next.ACTimeValue = result.TimeStamp
	return next, true, nil
}

var _ Client = (*HTTPClient)(nil)
