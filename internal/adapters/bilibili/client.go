package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tg-subwatch-bot/internal/domain"
	"tg-subwatch-bot/internal/infra/metrics"
)

const (
	defaultLiveBaseURL = "https://api.live.bilibili.com"
	defaultMainBaseURL = "https://api.bilibili.com"
)

// Client — клиент открытых API Bilibili.
type Client struct {
	liveBase   *url.URL
	mainBase   *url.URL
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

// WithLiveBaseURL переопределяет адрес live-API.
func WithLiveBaseURL(raw string) Option {
	return func(c *Client) {
		if parsed, err := url.Parse(raw); err == nil {
			c.liveBase = parsed
		}
	}
}

// WithMainBaseURL переопределяет адрес основного API.
func WithMainBaseURL(raw string) Option {
	return func(c *Client) {
		if parsed, err := url.Parse(raw); err == nil {
			c.mainBase = parsed
		}
	}
}

// New создаёт клиент API.
func New(opts ...Option) *Client {
	liveBase, _ := url.Parse(defaultLiveBaseURL)
	mainBase, _ := url.Parse(defaultMainBaseURL)
	client := &Client{
		liveBase:   liveBase,
		mainBase:   mainBase,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// apiEnvelope — общий конверт ответов API Bilibili.
type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type roomBaseInfo struct {
	RoomID     int64  `json:"room_id"`
	ShortID    int64  `json:"short_id"`
	UID        int64  `json:"uid"`
	UserName   string `json:"uname"`
	Title      string `json:"title"`
	LiveStatus int    `json:"live_status"`
	LiveTime   string `json:"live_time"`
	Cover      string `json:"cover"`
	Tags       string `json:"tags"`
}

type roomBaseInfoData struct {
	ByRoomIDs map[string]roomBaseInfo `json:"by_room_ids"`
}

// QueryRoomStatuses возвращает состояние перечисленных комнат одним запросом,
// ключ карты — канонический номер комнаты.
func (c *Client) QueryRoomStatuses(ctx context.Context, roomIDs []string) (map[string]domain.LiveRoomStatus, error) {
	if len(roomIDs) == 0 {
		return map[string]domain.LiveRoomStatus{}, nil
	}

	query := url.Values{}
	query.Set("req_biz", "web_room_componet")
	for _, roomID := range roomIDs {
		query.Add("room_ids", roomID)
	}
	endpoint := c.liveBase.JoinPath("/xlive/web-room/v1/index/getRoomBaseInfo")
	endpoint.RawQuery = query.Encode()

	var data roomBaseInfoData
	if err := c.getJSON(ctx, endpoint.String(), "live_rooms_base_info", &data); err != nil {
		return nil, err
	}

	statuses := make(map[string]domain.LiveRoomStatus, len(data.ByRoomIDs))
	for _, info := range data.ByRoomIDs {
		status := domain.LiveRoomStatus{
			RoomID:   strconv.FormatInt(info.RoomID, 10),
			State:    domain.LiveState(info.LiveStatus),
			Title:    info.Title,
			UserID:   strconv.FormatInt(info.UID, 10),
			UserName: info.UserName,
			LiveTime: info.LiveTime,
			Tags:     info.Tags,
			CoverURL: info.Cover,
		}
		if info.ShortID != 0 {
			status.ShortID = strconv.FormatInt(info.ShortID, 10)
		}
		statuses[status.RoomID] = status
	}
	return statuses, nil
}

// Типы динамик, не требующие уведомления подписчиков.
const (
	DynamicTypeLiveRecommend = "DYNAMIC_TYPE_LIVE_RCMD"
	DynamicTypeAd            = "DYNAMIC_TYPE_AD"
	DynamicTypeApplet        = "DYNAMIC_TYPE_APPLET"
)

// DynamicItem — одна запись ленты динамик пользователя.
type DynamicItem struct {
	IDStr   string `json:"id_str"`
	Type    string `json:"type"`
	Modules struct {
		ModuleAuthor struct {
			MID  int64  `json:"mid"`
			Name string `json:"name"`
		} `json:"module_author"`
		ModuleDynamic struct {
			Desc *struct {
				Text string `json:"text"`
			} `json:"desc"`
		} `json:"module_dynamic"`
	} `json:"modules"`
}

// Text возвращает текст динамики.
func (d DynamicItem) Text() string {
	if d.Modules.ModuleDynamic.Desc == nil {
		return ""
	}
	return d.Modules.ModuleDynamic.Desc.Text
}

type dynamicFeedData struct {
	Items []DynamicItem `json:"items"`
}

// QueryUserDynamics возвращает ленту динамик пользователя.
func (c *Client) QueryUserDynamics(ctx context.Context, uid string) ([]DynamicItem, error) {
	endpoint := c.mainBase.JoinPath("/x/polymer/web-dynamic/v1/feed/space")
	query := url.Values{}
	query.Set("host_mid", uid)
	endpoint.RawQuery = query.Encode()

	var data dynamicFeedData
	if err := c.getJSON(ctx, endpoint.String(), "user_space_dynamics", &data); err != nil {
		return nil, err
	}
	return data.Items, nil
}

// UserCard — карточка пользователя.
type UserCard struct {
	MID  string `json:"mid"`
	Name string `json:"name"`
	Sign string `json:"sign"`
}

type userCardData struct {
	Card UserCard `json:"card"`
}

// QueryUserCard возвращает карточку пользователя по UID.
func (c *Client) QueryUserCard(ctx context.Context, uid string) (UserCard, error) {
	endpoint := c.mainBase.JoinPath("/x/web-interface/card")
	query := url.Values{}
	query.Set("mid", uid)
	endpoint.RawQuery = query.Encode()

	var data userCardData
	if err := c.getJSON(ctx, endpoint.String(), "user_card", &data); err != nil {
		return UserCard{}, err
	}
	return data.Card, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL, operation string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Referer", "https://www.bilibili.com/")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("bilibili", operation, req.URL.Host, start, err)
	if err != nil {
		return fmt.Errorf("запрос к API bilibili: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("API bilibili ответил статусом %d", resp.StatusCode)
	}

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("разбор ответа API: %w", err)
	}
	if envelope.Code != 0 {
		return fmt.Errorf("API bilibili вернул ошибку %d: %s", envelope.Code, envelope.Message)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("разбор данных ответа: %w", err)
	}
	return nil
}
