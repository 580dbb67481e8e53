// Package mail retrieves recent inbox messages from a Graph-style mail API.
package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/HerbHall/mailpulse/internal/gateway"
	"github.com/HerbHall/mailpulse/pkg/models"
	"go.uber.org/zap"
)

// Config holds mail API settings.
type Config struct {
	BaseURL     string `mapstructure:"base_url"`
	Folder      string `mapstructure:"folder"`
	MaxMessages int    `mapstructure:"max_messages"`
}

// DefaultConfig targets Microsoft Graph.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://graph.microsoft.com",
		Folder:      "inbox",
		MaxMessages: 5,
	}
}

// Retriever fetches a bounded, newest-first window of messages.
type Retriever struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewRetriever creates a retriever. httpClient is normally the gateway's
// client for the "mail" service.
func NewRetriever(cfg Config, httpClient *http.Client, logger *zap.Logger) *Retriever {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Folder == "" {
		cfg.Folder = def.Folder
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = def.MaxMessages
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{cfg: cfg, httpClient: httpClient, logger: logger}
}

type graphMessage struct {
	ID               string    `json:"id"`
	Subject          string    `json:"subject"`
	BodyPreview      string    `json:"bodyPreview"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
	From             *struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	Body *struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
}

type graphList struct {
	Value []graphMessage `json:"value"`
}

// Fetch returns up to maxMessages of the account's most recent messages,
// newest first. maxMessages <= 0 uses the configured default.
func (r *Retriever) Fetch(ctx context.Context, accountID, accessToken string, maxMessages int) ([]models.Message, error) {
	if maxMessages <= 0 {
		maxMessages = r.cfg.MaxMessages
	}

	q := url.Values{}
	q.Set("$top", strconv.Itoa(maxMessages))
	q.Set("$orderby", "receivedDateTime desc")
	q.Set("$select", "id,subject,from,receivedDateTime,body,bodyPreview")
	endpoint := strings.TrimSuffix(r.cfg.BaseURL, "/") +
		"/v1.0/me/mailFolders/" + url.PathEscape(r.cfg.Folder) + "/messages?" + q.Encode()

	req, err := http.NewRequestWithContext(gateway.WithRoutingKey(ctx, accountID), http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", `outlook.body-content-type="text"`)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if gateway.Retryable(err) || ctx.Err() != nil {
			return nil, fmt.Errorf("fetch messages for %s: %w", accountID, err)
		}
		return nil, fmt.Errorf("%w: fetch messages for %s: %w", gateway.ErrUnavailable, accountID, err)
	}
	defer resp.Body.Close()

	if cerr := gateway.ClassifyStatus("mail", resp.StatusCode, resp.Header, time.Now()); cerr != nil {
		return nil, fmt.Errorf("fetch messages for %s: %w", accountID, cerr)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: mail api returned %d for %s", gateway.ErrUnavailable, resp.StatusCode, accountID)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read mail response: %w", gateway.ErrUnavailable, err)
	}
	var list graphList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("%w: malformed mail response for %s: %w", gateway.ErrUnavailable, accountID, err)
	}

	msgs := make([]models.Message, 0, len(list.Value))
	for _, gm := range list.Value {
		msgs = append(msgs, convert(gm))
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].ReceivedAt.After(msgs[j].ReceivedAt)
	})
	if len(msgs) > maxMessages {
		msgs = msgs[:maxMessages]
	}

	r.logger.Debug("messages fetched",
		zap.String("account_id", accountID),
		zap.Int("count", len(msgs)),
	)
	return msgs, nil
}

func convert(gm graphMessage) models.Message {
	m := models.Message{
		ID:         gm.ID,
		Subject:    gm.Subject,
		ReceivedAt: gm.ReceivedDateTime,
	}
	if gm.From != nil {
		m.Sender = gm.From.EmailAddress.Address
		if m.Sender == "" {
			m.Sender = gm.From.EmailAddress.Name
		}
	}
	switch {
	case gm.Body != nil && strings.EqualFold(gm.Body.ContentType, "html"):
		m.BodyText = StripHTML(gm.Body.Content)
	case gm.Body != nil && gm.Body.Content != "":
		m.BodyText = gm.Body.Content
	default:
		m.BodyText = gm.BodyPreview
	}
	return m
}

var (
	scriptStyle = regexp.MustCompile(`(?is)<(script|style)\b.*?</(script|style)>`)
	htmlTag     = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRun    = regexp.MustCompile(`[ \t\r\f\v\x{00a0}]+`)
)

// StripHTML reduces an HTML body to its visible text.
func StripHTML(s string) string {
	s = scriptStyle.ReplaceAllString(s, " ")
	s = htmlTag.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
