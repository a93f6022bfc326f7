package channel

import (
	"context"
	"net/http"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"

	"notifyd/internal/config"
	"notifyd/internal/notify"
)

const telegramAPIURL = "https://api.telegram.org"

// telegramTextLimit is the Bot API cap for one sendMessage call.
const telegramTextLimit = 4096

// BotPool caches telebot clients per (api url, token) so reloading the
// config with a new token does not need a restart.
type BotPool struct {
	client *http.Client

	mu   sync.Mutex
	bots map[string]*tele.Bot
}

func NewBotPool(client *http.Client) *BotPool {
	if client == nil {
		client = http.DefaultClient
	}
	return &BotPool{client: client, bots: map[string]*tele.Bot{}}
}

func (p *BotPool) get(apiURL, token string) (*tele.Bot, error) {
	apiURL = strings.TrimRight(strings.TrimSpace(apiURL), "/")
	if apiURL == "" {
		apiURL = telegramAPIURL
	}
	key := apiURL + "\x00" + token

	p.mu.Lock()
	defer p.mu.Unlock()
	if b := p.bots[key]; b != nil {
		return b, nil
	}
	// Offline skips getMe: the bot only ever calls sendMessage.
	b, err := tele.NewBot(tele.Settings{
		URL:     apiURL,
		Token:   token,
		Client:  p.client,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	p.bots[key] = b
	return b, nil
}

// chatRecipient accepts numeric ids and @channel usernames alike.
type chatRecipient string

func (c chatRecipient) Recipient() string { return string(c) }

func telegramDescriptor(pool *BotPool) Descriptor {
	if pool == nil {
		pool = NewBotPool(nil)
	}
	return Descriptor{
		Name:    "telegram",
		Enabled: func(c config.ChannelsConfig) bool { return c.Telegram.Enabled },
		Ready: func(c config.ChannelsConfig) bool {
			return c.Telegram.Enabled && !blank(c.Telegram.Token) && !blank(c.Telegram.ChatID)
		},
		// One bot, one chat.
		Targets: func(c config.ChannelsConfig) []string { return []string{strings.TrimSpace(c.Telegram.ChatID)} },
		Adapter: AdapterFunc(func(ctx context.Context, cfg config.ChannelsConfig, msg notify.Request, chatID string) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			bot, err := pool.get(cfg.Telegram.APIURL, strings.TrimSpace(cfg.Telegram.Token))
			if err != nil {
				return err
			}
			text := joinText(msg)
			if r := []rune(text); len(r) > telegramTextLimit {
				text = string(r[:telegramTextLimit-1]) + "…"
			}
			_, err = bot.Send(chatRecipient(chatID), text)
			return err
		}),
	}
}
