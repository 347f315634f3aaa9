package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// VendorLoss is one line of the top-vendor section of an alert.
type VendorLoss struct {
	Vendor string
	Mean   decimal.Decimal
}

// Notification 封装一次损失计算的告警上下文。
type Notification struct {
	RunID         int64
	RunAt         time.Time
	MeanLoss      decimal.Decimal
	ThresholdLoss decimal.Decimal
	Vendors       int
	Hotels        int
	FailedVendors []string
	TopVendors    []VendorLoss
	Channels      []string
	AdditionalMsg string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Int64("run_id", note.RunID).
		Str("mean_loss", note.MeanLoss.StringFixed(2)).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("告警已发送 (Telegram)")
	return nil
}

// RenderMessage formats the plain-text alert body.
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Price Cache Loss Alert]\n")
	if note.RunID > 0 {
		builder.WriteString(fmt.Sprintf("Run: #%d\n", note.RunID))
	}
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.RunAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Mean loss: %s (threshold %s)\n", note.MeanLoss.StringFixed(2), note.ThresholdLoss.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Coverage: %d vendors, %d hotels\n", note.Vendors, note.Hotels))
	if len(note.FailedVendors) > 0 {
		builder.WriteString(fmt.Sprintf("Skipped vendors: %s\n", strings.Join(note.FailedVendors, ",")))
	}
	if len(note.TopVendors) > 0 {
		builder.WriteString("Top vendors:\n")
		for _, v := range note.TopVendors {
			builder.WriteString(fmt.Sprintf("  %s %s\n", v.Vendor, v.Mean.StringFixed(2)))
		}
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
