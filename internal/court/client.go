package court

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://digital.damacgroup.com/damacliving/api/v1"

	userAgent       = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36"
	maxResponseBody = 1 << 20
)

type Config struct {
	BaseURL  string
	Username string
	Password string

	APIToken          string
	AuthIdentifier    string
	BookingIdentifier string
	BookingUnitID     string
	Guests            int

	// Courts maps the user-facing court number to the remote amenity id.
	Courts map[int]string

	Timeout time.Duration
}

// Session is the authenticated identity returned by the login endpoint.
type Session struct {
	AccessToken string
	AccountID   string
}

type Slot struct {
	ID        string `json:"id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Client talks to the court booking system. It owns a single session and
// makes at most one HTTP attempt per call; retries are up to the caller.
type Client struct {
	hc  *http.Client
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	session *Session
}

func New(cfg Config, hc *http.Client, log *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Guests <= 0 {
		cfg.Guests = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{hc: hc, cfg: cfg, log: log}
}

// Courts returns the configured court numbers in ascending order.
func (c *Client) Courts() []int {
	out := make([]int, 0, len(c.cfg.Courts))
	for n := range c.cfg.Courts {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func (c *Client) AmenityID(courtNumber int) (string, bool) {
	id, ok := c.cfg.Courts[courtNumber]
	return id, ok
}

func (c *Client) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

type loginRequest struct {
	UserName        string `json:"user_name"`
	Password        string `json:"password"`
	AppID           int    `json:"app_id"`
	DeviceSource    string `json:"device_source"`
	AppOSVersion    string `json:"app_os_version"`
	AppVersion      string `json:"app_version"`
	UserAgent       string `json:"user_agent"`
	AccessCode      string `json:"access_code"`
	LinkWithUAEPass bool   `json:"link_with_uae_pass"`
}

type loginResponse struct {
	Data struct {
		Party struct {
			AccessToken  string `json:"access_token"`
			CustomerName string `json:"customer_name"`
			AccountID    string `json:"account_id"`
		} `json:"party"`
	} `json:"data"`
	MetaData struct {
		Message string `json:"message"`
	} `json:"meta_data"`
}

// Authenticate logs in with the configured credentials. The session is only
// replaced when the response carries both a token and an account id; any
// failure leaves the previous session as it was.
func (c *Client) Authenticate(ctx context.Context) bool {
	if c.cfg.Username == "" || c.cfg.Password == "" {
		c.log.Error("court credentials are empty", zap.String("username", c.cfg.Username), zap.Int("password_len", len(c.cfg.Password)))
		return false
	}

	body, err := json.Marshal(loginRequest{
		UserName:     c.cfg.Username,
		Password:     c.cfg.Password,
		AppID:        3,
		DeviceSource: "web",
		AppOSVersion: "web",
		UserAgent:    userAgent,
	})
	if err != nil {
		c.log.Error("encode login request", zap.Error(err))
		return false
	}

	status, respBody, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+"/users/login", c.cfg.AuthIdentifier, "", body)
	if err != nil {
		c.log.Error("court authentication error", zap.Error(err))
		return false
	}
	if status < 200 || status >= 300 {
		c.log.Error("court authentication rejected", zap.Int("status", status), zap.String("body", snippet(respBody)))
		return false
	}

	var parsed loginResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		c.log.Error("decode login response", zap.Error(err))
		return false
	}
	party := parsed.Data.Party
	if party.AccessToken == "" || party.AccountID == "" {
		c.log.Error("login response missing token or account id", zap.String("message", parsed.MetaData.Message))
		return false
	}

	c.mu.Lock()
	c.session = &Session{AccessToken: party.AccessToken, AccountID: party.AccountID}
	c.mu.Unlock()

	c.log.Info("court authentication successful", zap.String("customer", party.CustomerName), zap.String("account_id", party.AccountID))
	return true
}

type slotsResponse struct {
	Data []Slot `json:"data"`
}

// FetchSlots lists the slots of one amenity on date. It never logs in on its
// own: without a session it returns ErrNoSession.
func (c *Client) FetchSlots(ctx context.Context, date time.Time, amenityID string) ([]Slot, error) {
	sess, ok := c.Session()
	if !ok {
		return nil, ErrNoSession
	}

	q := url.Values{}
	q.Set("amenity_id", amenityID)
	q.Set("booking_date", date.Format("2006-01-02"))
	rawURL := c.cfg.BaseURL + "/amenities/slots?" + q.Encode()

	status, body, err := c.do(ctx, http.MethodGet, rawURL, c.cfg.BookingIdentifier, sess.AccessToken, nil)
	if err != nil {
		return nil, &RemoteError{Op: "fetch slots", Err: err}
	}
	if status == http.StatusNoContent {
		return []Slot{}, nil
	}
	if status < 200 || status >= 300 {
		return nil, &RemoteError{Op: "fetch slots", StatusCode: status, Err: errors.New(snippet(body))}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return []Slot{}, nil
	}

	var parsed slotsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &RemoteError{Op: "fetch slots", StatusCode: status, Err: fmt.Errorf("decode: %w", err)}
	}
	if parsed.Data == nil {
		return []Slot{}, nil
	}
	return parsed.Data, nil
}

type bookingRequest struct {
	Origin        string `json:"origin"`
	FMCaseID      string `json:"fm_case_id"`
	AccountID     string `json:"account_id"`
	BookingUnitID string `json:"booking_unit_id"`
	AmenityID     string `json:"amenity_id"`
	AmenitySlotID string `json:"amenity_slot_id"`
	BookingDate   string `json:"booking_date"`
	NoOfGuest     int    `json:"no_of_guest"`
	Comments      string `json:"comments"`
}

// Book registers slotID of amenityID on date. It logs in first when there is
// no session yet.
func (c *Client) Book(ctx context.Context, date time.Time, slotID, amenityID string) Outcome {
	day := date.Format("2006-01-02")
	c.log.Info("booking court", zap.String("date", day), zap.String("slot_id", slotID), zap.String("amenity_id", amenityID))

	sess, ok := c.Session()
	if !ok {
		if !c.Authenticate(ctx) {
			return Failure("authentication failed")
		}
		sess, _ = c.Session()
	}

	body, err := json.Marshal(bookingRequest{
		Origin:        "Portal",
		AccountID:     sess.AccountID,
		BookingUnitID: c.cfg.BookingUnitID,
		AmenityID:     amenityID,
		AmenitySlotID: slotID,
		BookingDate:   day,
		NoOfGuest:     c.cfg.Guests,
	})
	if err != nil {
		return Failure(fmt.Sprintf("booking error: %v", err))
	}

	status, respBody, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+"/amenities/registration", c.cfg.BookingIdentifier, sess.AccessToken, body)
	switch {
	case err != nil:
		c.log.Error("booking request error", zap.String("date", day), zap.Error(err))
		return Failure(fmt.Sprintf("booking error: %v", err))
	case status >= 200 && status < 300:
		c.log.Info("booking successful", zap.String("date", day), zap.String("slot_id", slotID))
		return Success("Court booked successfully")
	case status == http.StatusConflict:
		c.log.Warn("court already booked", zap.String("date", day), zap.String("slot_id", slotID))
		return AlreadyBooked("Court already booked")
	default:
		c.log.Error("booking rejected", zap.String("date", day), zap.Int("status", status), zap.String("body", snippet(respBody)))
		return Failure(fmt.Sprintf("Booking failed with status: %d", status))
	}
}

func (c *Client) do(ctx context.Context, method, rawURL, identifier, token string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("accept", "application/json, text/plain, */*")
	req.Header.Set("accept-language", "en")
	req.Header.Set("origin", "https://www.damacliving.com")
	req.Header.Set("referer", "https://www.damacliving.com/")
	req.Header.Set("user-agent", userAgent)
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	if c.cfg.APIToken != "" {
		req.Header.Set("api-token", c.cfg.APIToken)
	}
	if identifier != "" {
		req.Header.Set("x-custom-identifier", identifier)
	}
	if token != "" {
		req.Header.Set("authorization", "Bearer "+token)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()

	b, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return res.StatusCode, nil, err
	}
	return res.StatusCode, b, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}
