package notifier

import (
	"fmt"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// NewTelegramSender はBot APIクライアントを生成する。
// 生成時にgetMeを呼び出すため、トークンが無効な場合はここでエラーになる。
func NewTelegramSender(token, apiEndpoint string, client *http.Client, logger *slog.Logger) (*tgbotapi.BotAPI, error) {
	if err := tgbotapi.SetLogger(botLogger{logger: logger}); err != nil {
		return nil, fmt.Errorf("failed to set telegram logger: %w", err)
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot authentication failed: %w", err)
	}

	logger.Info("Telegram Botに接続しました",
		slog.String("bot_username", bot.Self.UserName),
	)
	return bot, nil
}

// botLogger はtgbotapiのログ出力をslogへ流す。
type botLogger struct {
	logger *slog.Logger
}

func (l botLogger) Println(v ...interface{}) {
	l.logger.Debug(fmt.Sprint(v...), slog.String("component", "tgbotapi"))
}

func (l botLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), slog.String("component", "tgbotapi"))
}
