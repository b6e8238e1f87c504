package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"shorts-optimizer/internal/models"
	"shorts-optimizer/shared/config"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
	"google.golang.org/api/youtubeanalytics/v2"
)

var scopes = []string{
	"https://www.googleapis.com/auth/youtube.readonly",
	"https://www.googleapis.com/auth/yt-analytics.readonly",
}

const (
	pageSize         = 50
	maxPlaylistPages = 5
	// candidateFactor bounds how many uploads are scanned per requested short.
	candidateFactor = 6
)

type Client struct {
	service     *youtube.Service
	analytics   *youtubeanalytics.Service
	config      *config.YouTubeConfig
	callTimeout time.Duration
	maxAttempts int
	newBackOff  func() backoff.BackOff
	now         func() time.Time
	logger      *log.Logger
}

// NewClient builds a live client. Warnings go to logger, or to the standard
// logger when it is nil.
func NewClient(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Client, error) {
	yc := &cfg.YouTube
	if logger == nil {
		logger = log.Default()
	}

	// Token exchanges use the same per-call ceiling as API requests.
	httpCtx := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: yc.CallTimeout()})

	tokenSource, err := newTokenSource(httpCtx, logger, cfg.AuthMode, yc)
	if err != nil {
		return nil, &models.ConfigError{Field: "youtube auth", Err: err}
	}
	httpClient := oauth2.NewClient(httpCtx, tokenSource)

	service, err := youtube.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}
	analytics, err := youtubeanalytics.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube Analytics service: %w", err)
	}

	return newClientWithServices(yc, service, analytics, logger), nil
}

func newClientWithServices(yc *config.YouTubeConfig, service *youtube.Service, analytics *youtubeanalytics.Service, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	maxAttempts := yc.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	callTimeout := yc.CallTimeout()
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}

	return &Client{
		service:     service,
		analytics:   analytics,
		config:      yc,
		callTimeout: callTimeout,
		maxAttempts: maxAttempts,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 8 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
		now:    time.Now,
		logger: logger,
	}
}

func newTokenSource(ctx context.Context, logger *log.Logger, mode string, yc *config.YouTubeConfig) (oauth2.TokenSource, error) {
	switch mode {
	case config.AuthOAuthRefresh:
		oauthConfig := oauthConfigFor(yc)
		return oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: yc.RefreshToken}), nil

	case config.AuthOAuthDevice:
		oauthConfig := oauthConfigFor(yc)
		token, err := getToken(ctx, logger, oauthConfig, yc.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to get OAuth token: %w", err)
		}
		return &tokenSaver{
			ctx:       ctx,
			config:    oauthConfig,
			token:     token,
			tokenFile: yc.TokenFile,
			logger:    logger,
		}, nil

	case config.AuthADC:
		data := []byte(yc.ServiceAccountJSON)
		if len(data) == 0 {
			b, err := os.ReadFile(yc.CredentialsFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read credentials file: %w", err)
			}
			data = b
		}
		creds, err := google.CredentialsFromJSON(ctx, data, scopes...)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Google credentials: %w", err)
		}
		return creds.TokenSource, nil
	}

	return nil, errors.New("YouTube auth mode is not configured")
}

func oauthConfigFor(yc *config.YouTubeConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     yc.ClientID,
		ClientSecret: yc.ClientSecret,
		Scopes:       scopes,
		Endpoint:     google.Endpoint,
	}
}

// tokenSaver wraps an oauth2.TokenSource to automatically save refreshed tokens.
// It intercepts token refresh operations and persists the new token to disk,
// ensuring that refreshed tokens survive application restarts.
type tokenSaver struct {
	ctx       context.Context
	config    *oauth2.Config
	token     *oauth2.Token
	tokenFile string
	logger    *log.Logger
	mu        sync.Mutex // Protects concurrent token refresh operations
}

// Token implements oauth2.TokenSource interface.
func (ts *tokenSaver) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ctx := ts.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	newToken, err := ts.config.TokenSource(ctx, ts.token).Token()
	if err != nil {
		return nil, err
	}

	if newToken.AccessToken != ts.token.AccessToken {
		ts.logger.Println("Token refreshed, saving to file")
		ts.token = newToken
		if err := saveToken(ts.tokenFile, newToken); err != nil {
			ts.logger.Printf("Warning: Failed to save refreshed token: %v", err)
		}
	}

	return newToken, nil
}

// getToken retrieves an OAuth2 token from disk or initiates the device flow.
// A stored token with a refresh token is kept even if expired; tokenSaver
// refreshes it on first use.
func getToken(ctx context.Context, logger *log.Logger, config *oauth2.Config, tokenFile string) (*oauth2.Token, error) {
	tok, err := tokenFromFile(tokenFile)
	if err == nil {
		if tok.RefreshToken != "" {
			logger.Printf("Loaded token from file (expires: %v)", tok.Expiry)
			return tok, nil
		}
		if tok.Valid() {
			return tok, nil
		}
	}

	logger.Println("Getting new token from web...")
	tok, err = getTokenWithDeviceFlow(ctx, config)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			logger.Printf("Device authorization response failed (%s): %s", retrieveErr.Response.Status, strings.TrimSpace(string(retrieveErr.Body)))
		}
		return nil, fmt.Errorf("device authorization failed: %w. Ensure your OAuth client is created as 'TVs and Limited Input devices' and that the YouTube Data and Analytics APIs are enabled.", err)
	}

	if err := saveToken(tokenFile, tok); err != nil {
		logger.Printf("Warning: Failed to save token: %v", err)
	}
	return tok, nil
}

func getTokenWithDeviceFlow(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	resp, err := config.DeviceAuth(ctx, oauth2.AccessTypeOffline)
	if err != nil {
		return nil, fmt.Errorf("unable to start device authorization: %w", err)
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 80))
	fmt.Printf("YOUTUBE DEVICE AUTHORIZATION REQUIRED\n")
	fmt.Printf("%s\n", strings.Repeat("=", 80))
	fmt.Printf("1. Visit %s in your browser (any device works).\n", resp.VerificationURI)
	fmt.Printf("2. Enter this code when prompted: %s\n\n", resp.UserCode)
	if completeURL := strings.TrimSpace(resp.VerificationURIComplete); completeURL != "" {
		fmt.Printf("   Or open directly: %s\n\n", completeURL)
	}
	fmt.Printf("Waiting for authorization to complete... (Ctrl+C to cancel)\n")
	fmt.Printf("%s\n", strings.Repeat("-", 80))

	tok, err := config.DeviceAccessToken(ctx, resp, oauth2.AccessTypeOffline)
	if err != nil {
		return nil, fmt.Errorf("device authorization did not complete: %w", err)
	}

	fmt.Printf("\nAuthorization successful.\n")
	fmt.Printf("%s\n\n", strings.Repeat("=", 80))

	return tok, nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

func saveToken(path string, token *oauth2.Token) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("unable to create token directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache oauth token: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("failed to encode oauth token: %w", err)
	}
	return nil
}

var isoDuration = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?$`)

// parseDurationSeconds parses an ISO 8601 duration such as "PT1M30S".
func parseDurationSeconds(duration string) (float64, bool) {
	matches := isoDuration.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(duration)))
	if matches == nil || (matches[1] == "" && matches[2] == "" && matches[3] == "") {
		return 0, false
	}

	var total float64
	if matches[1] != "" {
		hours, _ := strconv.Atoi(matches[1])
		total += float64(hours) * 3600
	}
	if matches[2] != "" {
		minutes, _ := strconv.Atoi(matches[2])
		total += float64(minutes) * 60
	}
	if matches[3] != "" {
		seconds, _ := strconv.ParseFloat(matches[3], 64)
		total += seconds
	}
	return round2(total), true
}

func (c *Client) SelectVideos(ctx context.Context, criteria Criteria) ([]*models.Video, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}

	if criteria.VideoID != "" {
		videos, err := c.fetchVideos(ctx, []string{criteria.VideoID})
		if err != nil {
			return nil, err
		}
		for _, v := range videos {
			if v.VideoID == criteria.VideoID {
				return []*models.Video{v}, nil
			}
		}
		return nil, models.ErrNoMatch
	}

	videos, err := c.listRecentShorts(ctx, criteria)
	if err != nil {
		return nil, err
	}
	if len(videos) == 0 {
		return nil, models.ErrNoMatch
	}
	return videos, nil
}

func (c *Client) uploadsPlaylist(ctx context.Context, criteria Criteria) (string, error) {
	var resp *youtube.ChannelListResponse
	err := c.call(ctx, "", func(callCtx context.Context) error {
		call := c.service.Channels.List([]string{"contentDetails"})
		if criteria.ChannelMine || c.config.ChannelID == "" {
			call = call.Mine(true)
		} else {
			call = call.Id(c.config.ChannelID)
		}
		var err error
		resp, err = call.Context(callCtx).Do()
		return err
	})
	if err != nil {
		return "", err
	}

	for _, channel := range resp.Items {
		if channel.ContentDetails != nil && channel.ContentDetails.RelatedPlaylists != nil {
			if uploads := channel.ContentDetails.RelatedPlaylists.Uploads; uploads != "" {
				return uploads, nil
			}
		}
	}
	return "", &models.MetricsFetchError{Err: errors.New("unable to determine uploads playlist for channel")}
}

func (c *Client) listRecentShorts(ctx context.Context, criteria Criteria) ([]*models.Video, error) {
	playlistID, err := c.uploadsPlaylist(ctx, criteria)
	if err != nil {
		return nil, err
	}

	// Clamped to what the page limit can return so the product cannot overflow.
	target := min(criteria.Last, maxPlaylistPages*pageSize) * candidateFactor

	var candidateIDs []string
	seen := make(map[string]bool)
	pageToken := ""

	for page := 0; page < maxPlaylistPages && len(candidateIDs) < target; page++ {
		var resp *youtube.PlaylistItemListResponse
		err := c.call(ctx, "", func(callCtx context.Context) error {
			call := c.service.PlaylistItems.List([]string{"contentDetails"}).
				PlaylistId(playlistID).
				MaxResults(pageSize)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var err error
			resp, err = call.Context(callCtx).Do()
			return err
		})
		if err != nil {
			return nil, err
		}

		for _, item := range resp.Items {
			if item.ContentDetails == nil || item.ContentDetails.VideoId == "" {
				continue
			}
			id := item.ContentDetails.VideoId
			if !seen[id] {
				seen[id] = true
				candidateIDs = append(candidateIDs, id)
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	var shorts []*models.Video
	for i := 0; i < len(candidateIDs); i += pageSize {
		end := i + pageSize
		if end > len(candidateIDs) {
			end = len(candidateIDs)
		}

		videos, err := c.fetchVideos(ctx, candidateIDs[i:end])
		if err != nil {
			return nil, err
		}
		for _, v := range videos {
			if c.config.MaxShortSeconds > 0 && v.DurationSeconds > float64(c.config.MaxShortSeconds) {
				continue
			}
			shorts = append(shorts, v)
		}

		if len(shorts) >= criteria.Last {
			break
		}
	}

	sortNewestFirst(shorts)
	if len(shorts) > criteria.Last {
		shorts = shorts[:criteria.Last]
	}
	return shorts, nil
}

func (c *Client) fetchVideos(ctx context.Context, ids []string) ([]*models.Video, error) {
	var resp *youtube.VideoListResponse
	err := c.call(ctx, "", func(callCtx context.Context) error {
		var err error
		resp, err = c.service.Videos.List([]string{"snippet", "contentDetails"}).
			Id(strings.Join(ids, ",")).
			Context(callCtx).
			Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	var videos []*models.Video
	for _, item := range resp.Items {
		if item.Id == "" || item.Snippet == nil || item.Snippet.Title == "" {
			continue
		}
		publishedAt, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
		if err != nil {
			continue
		}

		video := &models.Video{
			VideoID:     item.Id,
			Title:       item.Snippet.Title,
			Description: item.Snippet.Description,
			PublishedAt: publishedAt,
			Tags:        item.Snippet.Tags,
			ChannelID:   item.Snippet.ChannelId,
		}
		if item.ContentDetails != nil {
			if seconds, ok := parseDurationSeconds(item.ContentDetails.Duration); ok {
				video.DurationSeconds = seconds
			}
		}
		videos = append(videos, video)
	}
	return videos, nil
}
