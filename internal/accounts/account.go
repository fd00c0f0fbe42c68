// Package accounts manages the pooled upstream credentials: account records,
// token refresh, scheduling policies, and synchronization with the shared
// accounts file.
package accounts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state of an account.
type Status string

const (
	StatusActive   Status = "active"
	StatusCooldown Status = "cooldown"
	StatusInvalid  Status = "invalid"
	StatusDisabled Status = "disabled"
)

// Auth methods for token refresh.
const (
	AuthSocial = "social"
	AuthIDC    = "idc"
)

// Credentials holds the refresh material for one account.
// RefreshToken is required for the account to be selectable; ClientID and
// ClientSecret are additionally required when AuthMethod is "idc".
type Credentials struct {
	RefreshToken string    `json:"refreshToken"`
	AccessToken  string    `json:"accessToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
	MachineID    string    `json:"machineId,omitempty"`
	Region       string    `json:"region,omitempty"`
	AuthMethod   string    `json:"authMethod"`
	ClientID     string    `json:"clientId,omitempty"`
	ClientSecret string    `json:"clientSecret,omitempty"`
	ProfileARN   string    `json:"profileArn,omitempty"`
}

// Account is one pooled upstream credential plus its runtime counters.
type Account struct {
	ID           string         `json:"id"`
	Email        string         `json:"email,omitempty"`
	Label        string         `json:"label,omitempty"`
	Priority     int            `json:"priority,omitempty"`
	Credentials  Credentials    `json:"credentials"`
	Status       Status         `json:"status"`
	RequestCount int64          `json:"requestCount"`
	ErrorCount   int64          `json:"errorCount"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastUsedAt   *time.Time     `json:"lastUsedAt,omitempty"`
	Usage        map[string]any `json:"usage,omitempty"`
}

// Selectable reports whether the account can serve a request right now.
func (a *Account) Selectable() bool {
	return a.Status == StatusActive && a.Credentials.RefreshToken != ""
}

// sharedRecord mirrors one element of the shared accounts file. The file is
// written by different tool generations, so both camelCase and snake_case
// spellings are accepted for every credential field.
type sharedRecord struct {
	ID       json.RawMessage `json:"id"`
	Email    string          `json:"email"`
	Label    string          `json:"label"`
	Status   string          `json:"status"`
	Provider string          `json:"provider"`

	RefreshToken      string `json:"refreshToken"`
	RefreshTokenSnake string `json:"refresh_token"`
	AccessToken       string `json:"accessToken"`
	AccessTokenSnake  string `json:"access_token"`

	ExpiresAt      json.RawMessage `json:"expiresAt"`
	ExpiresAtSnake json.RawMessage `json:"expires_at"`

	MachineID      string `json:"machineId"`
	MachineIDSnake string `json:"machine_id"`

	ClientID          string `json:"clientId"`
	ClientIDSnake     string `json:"client_id"`
	ClientSecret      string `json:"clientSecret"`
	ClientSecretSnake string `json:"client_secret"`

	ProfileARN      string `json:"profileArn"`
	ProfileARNSnake string `json:"profile_arn"`

	Region string `json:"region"`

	AddedAt   json.RawMessage `json:"addedAt"`
	AddedAt2  json.RawMessage `json:"added_at"`
	CreatedAt json.RawMessage `json:"createdAt"`

	Usage      map[string]any `json:"usage"`
	UsageData  map[string]any `json:"usageData"`
	UsageData2 map[string]any `json:"usage_data"`
}

func coalesce(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// NormalizeStatus maps the free-form status strings found in shared files
// (including the Chinese spellings older tools wrote) onto the four states.
func NormalizeStatus(raw string) Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(s, "invalid"), strings.Contains(s, "ban"),
		strings.Contains(s, "封禁"), strings.Contains(s, "失效"):
		return StatusInvalid
	case strings.Contains(s, "disabled"), strings.Contains(s, "禁用"):
		return StatusDisabled
	case strings.Contains(s, "cooldown"), strings.Contains(s, "冷却"):
		return StatusCooldown
	default:
		return StatusActive
	}
}

// inferAuthMethod decides between social and IDC refresh. IDC is implied by
// client credentials or by enterprise-flavoured provider names.
func inferAuthMethod(provider, clientID, clientSecret string) string {
	if clientID != "" && clientSecret != "" {
		return AuthIDC
	}
	p := strings.ToLower(provider)
	for _, marker := range []string{"idc", "identity center", "builder"} {
		if strings.Contains(p, marker) {
			return AuthIDC
		}
	}
	return AuthSocial
}

// parseTimestamp accepts RFC3339, epoch milliseconds (number or numeric
// string), and the launcher's local "2006/01/02 15:04:05" form.
func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		if num <= 0 {
			return time.Time{}
		}
		return time.UnixMilli(int64(num))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.ParseInLocation("2006/01/02 15:04:05", s, time.Local); err == nil {
		return t
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return strconv.FormatInt(int64(num), 10)
	}
	return ""
}

// deriveMachineID produces a stable per-account machine id when the shared
// file does not carry one. The upstream only requires the value to be
// consistent across requests from the same credential.
func deriveMachineID(accountID string) string {
	sum := sha256.Sum256([]byte("kirogate:" + accountID))
	return hex.EncodeToString(sum[:])
}

// accountFromShared normalizes one shared-file record. Records without a
// refresh token yield nil: they can never be selected.
func accountFromShared(rec sharedRecord, index int, defaultRegion string) *Account {
	refresh := coalesce(rec.RefreshToken, rec.RefreshTokenSnake)
	if refresh == "" {
		return nil
	}

	id := strings.TrimSpace(rawString(rec.ID))
	if id == "" {
		id = coalesce(rec.Email, "account-"+strconv.Itoa(index+1))
	}

	clientID := coalesce(rec.ClientID, rec.ClientIDSnake)
	clientSecret := coalesce(rec.ClientSecret, rec.ClientSecretSnake)

	expires := parseTimestamp(rec.ExpiresAt)
	if expires.IsZero() {
		expires = parseTimestamp(rec.ExpiresAtSnake)
	}

	created := parseTimestamp(rec.AddedAt)
	if created.IsZero() {
		created = parseTimestamp(rec.AddedAt2)
	}
	if created.IsZero() {
		created = parseTimestamp(rec.CreatedAt)
	}
	if created.IsZero() {
		created = time.Now().UTC()
	}

	usage := rec.Usage
	if usage == nil {
		usage = rec.UsageData
	}
	if usage == nil {
		usage = rec.UsageData2
	}

	region := coalesce(rec.Region, defaultRegion)
	machineID := coalesce(rec.MachineID, rec.MachineIDSnake)
	if machineID == "" {
		machineID = deriveMachineID(id)
	}

	return &Account{
		ID:       id,
		Email:    strings.TrimSpace(rec.Email),
		Label:    strings.TrimSpace(rec.Label),
		Priority: index,
		Credentials: Credentials{
			RefreshToken: refresh,
			AccessToken:  coalesce(rec.AccessToken, rec.AccessTokenSnake),
			ExpiresAt:    expires,
			MachineID:    machineID,
			Region:       region,
			AuthMethod:   inferAuthMethod(rec.Provider, clientID, clientSecret),
			ClientID:     clientID,
			ClientSecret: clientSecret,
			ProfileARN:   coalesce(rec.ProfileARN, rec.ProfileARNSnake),
		},
		Status:    NormalizeStatus(rec.Status),
		CreatedAt: created,
		Usage:     usage,
	}
}

// ParseSharedFile parses the shared accounts file contents into normalized
// account records. The file must be a JSON array; records without a refresh
// token are skipped.
func ParseSharedFile(data []byte, defaultRegion string) ([]*Account, error) {
	var records []sharedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	out := make([]*Account, 0, len(records))
	for i, rec := range records {
		if acc := accountFromShared(rec, i, defaultRegion); acc != nil {
			out = append(out, acc)
		}
	}
	return out, nil
}
