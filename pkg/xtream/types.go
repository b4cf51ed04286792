package xtream

import (
	"encoding/json"
	"strconv"
	"time"
)

// AuthInfo is the combined server and user information returned by a bare
// player_api.php request.
type AuthInfo struct {
	UserInfo   UserInfo   `json:"user_info"`
	ServerInfo ServerInfo `json:"server_info"`
}

// UserInfo contains user account information.
type UserInfo struct {
	Username             string   `json:"username"`
	Password             string   `json:"password"`
	Message              string   `json:"message"`
	Auth                 FlexInt  `json:"auth"`
	Status               string   `json:"status"`
	ExpDate              FlexInt  `json:"exp_date"`
	IsTrial              FlexInt  `json:"is_trial"`
	ActiveConnections    FlexInt  `json:"active_cons"`
	CreatedAt            FlexInt  `json:"created_at"`
	MaxConnections       FlexInt  `json:"max_connections"`
	AllowedOutputFormats []string `json:"allowed_output_formats"`
}

// NewUserInfo builds the UserInfo block for an authenticated account.
// Accounts never expire; players that insist on an expiry get one far in
// the future.
func NewUserInfo(username, password string, maxConnections int) UserInfo {
	return UserInfo{
		Username:             username,
		Password:             password,
		Auth:                 1,
		Status:               "Active",
		ExpDate:              FlexInt(time.Now().AddDate(10, 0, 0).Unix()),
		ActiveConnections:    0,
		CreatedAt:            FlexInt(time.Now().Unix()),
		MaxConnections:       FlexInt(maxConnections),
		AllowedOutputFormats: []string{"m3u8"},
	}
}

// IsAuthenticated returns true if the user is authenticated.
func (u *UserInfo) IsAuthenticated() bool {
	return u.Auth.Int() == 1 && u.Status == "Active"
}

// ServerInfo contains server connection information.
type ServerInfo struct {
	URL            string  `json:"url"`
	Port           FlexInt `json:"port"`
	HTTPSPort      FlexInt `json:"https_port"`
	ServerProtocol string  `json:"server_protocol"`
	RTMPPort       FlexInt `json:"rtmp_port"`
	Timezone       string  `json:"timezone"`
	TimestampNow   FlexInt `json:"timestamp_now"`
	TimeNow        string  `json:"time_now"`
	Process        bool    `json:"process"`
}

// NewServerInfo builds the ServerInfo block from the gateway's external
// host, port and scheme.
func NewServerInfo(host string, port int, protocol string) ServerInfo {
	now := time.Now()
	return ServerInfo{
		URL:            host,
		Port:           FlexInt(port),
		HTTPSPort:      FlexInt(port),
		ServerProtocol: protocol,
		Timezone:       now.Location().String(),
		TimestampNow:   FlexInt(now.Unix()),
		TimeNow:        now.Format("2006-01-02 15:04:05"),
		Process:        true,
	}
}

// Category represents a content category.
type Category struct {
	CategoryID   FlexString `json:"category_id"`
	CategoryName string     `json:"category_name"`
	ParentID     FlexInt    `json:"parent_id"`
}

// Stream represents a live stream entry in a get_live_streams response.
type Stream struct {
	Num          FlexInt    `json:"num"`
	Name         string     `json:"name"`
	StreamType   string     `json:"stream_type"`
	StreamID     FlexInt    `json:"stream_id"`
	StreamIcon   string     `json:"stream_icon"`
	EPGChannelID string     `json:"epg_channel_id"`
	Added        FlexInt    `json:"added"`
	IsAdult      FlexInt    `json:"is_adult"`
	CategoryID   FlexString `json:"category_id"`
	CategoryIDs  []FlexInt  `json:"category_ids"`
	CustomSID    string     `json:"custom_sid"`
	TVArchive    FlexInt    `json:"tv_archive"`
	DirectSource string     `json:"direct_source"`
}

// FlexInt handles JSON numbers that may be strings or integers.
type FlexInt int64

// Int returns the integer value.
func (f FlexInt) Int() int64 {
	return int64(f)
}

// UnmarshalJSON handles both string and number JSON values.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexInt(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = FlexInt(n)
		return nil
	}

	*f = 0
	return nil
}

// FlexString handles JSON values that may be strings or numbers.
type FlexString string

// String returns the string value.
func (f FlexString) String() string {
	return string(f)
}

// UnmarshalJSON handles both string and number JSON values.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexString(n.String())
		return nil
	}

	*f = ""
	return nil
}
