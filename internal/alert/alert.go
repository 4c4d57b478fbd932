package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Manager struct {
	enabled      bool
	slackWebhook string
	httpClient   HTTPClient
}

// IntegrityFailure is the payload of an integrity alert.
type IntegrityFailure struct {
	File           string
	Index          int
	PolicyNumber   string
	Cause          string
	StoredHash     string
	RecomputedHash string
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func NewManager(enabled bool, slackWebhook string) *Manager {
	return &Manager{
		enabled:      enabled,
		slackWebhook: slackWebhook,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

func NewManagerWithClient(enabled bool, slackWebhook string, client HTTPClient) *Manager {
	return &Manager{
		enabled:      enabled,
		slackWebhook: slackWebhook,
		httpClient:   client,
	}
}

func (m *Manager) Enabled() bool {
	return m.enabled && m.slackWebhook != ""
}

func (m *Manager) SendIntegrityAlert(f IntegrityFailure) error {
	if !m.Enabled() {
		return nil
	}

	msg := slackMessage{
		Text: "🚨 *LEDGER INTEGRITY VIOLATION*",
		Attachments: []slackAttachment{
			{
				Color: "danger",
				Title: "Contract ledger hash chain broken",
				Fields: []slackField{
					{Title: "File", Value: f.File, Short: true},
					{Title: "Record", Value: strconv.Itoa(f.Index), Short: true},
					{Title: "Policy", Value: f.PolicyNumber, Short: true},
					{Title: "Cause", Value: f.Cause, Short: true},
					{Title: "Stored Hash", Value: f.StoredHash, Short: false},
					{Title: "Recomputed Hash", Value: f.RecomputedHash, Short: false},
				},
				Footer: "policyledger",
				Ts:     time.Now().Unix(),
			},
		},
	}

	return m.sendSlackMessage(msg)
}

func (m *Manager) SendDriftAlert(file, checkpointTail, currentTail string) error {
	if !m.Enabled() {
		return nil
	}

	msg := slackMessage{
		Text: "⚠️ *LEDGER FILE CHANGED OUTSIDE POLICYLEDGER*",
		Attachments: []slackAttachment{
			{
				Color: "warning",
				Title: "Tail hash differs from last checkpoint",
				Fields: []slackField{
					{Title: "File", Value: file, Short: false},
					{Title: "Checkpoint Tail", Value: checkpointTail, Short: false},
					{Title: "Current Tail", Value: currentTail, Short: false},
				},
				Footer: "policyledger",
				Ts:     time.Now().Unix(),
			},
		},
	}

	return m.sendSlackMessage(msg)
}

func (m *Manager) sendSlackMessage(msg slackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, m.slackWebhook, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned non-200 status: %d", resp.StatusCode)
	}

	return nil
}
