package channel

import (
	"context"

	"notifyd/internal/config"
	"notifyd/internal/notify"
	"notifyd/internal/transport"
)

// ---- DingTalk custom robot ----

type dingTalkText struct {
	Content string `json:"content"`
}

type dingTalkAt struct {
	AtMobiles []string `json:"atMobiles"`
	IsAtAll   bool     `json:"isAtAll"`
}

type dingTalkMessage struct {
	MsgType string       `json:"msgtype"`
	Text    dingTalkText `json:"text"`
	At      dingTalkAt   `json:"at"`
}

func dingTalkDescriptor(client *transport.Client) Descriptor {
	return Descriptor{
		Name:    "dingtalk",
		Enabled: func(c config.ChannelsConfig) bool { return c.DingTalk.Enabled },
		Ready:   func(c config.ChannelsConfig) bool { return c.DingTalk.Enabled && !blank(c.DingTalk.WebhookURL) },
		Targets: func(c config.ChannelsConfig) []string { return SplitTargets(c.DingTalk.WebhookURL) },
		Adapter: AdapterFunc(func(ctx context.Context, cfg config.ChannelsConfig, msg notify.Request, target string) error {
			dc := cfg.DingTalk
			body := dingTalkMessage{
				MsgType: "text",
				Text:    dingTalkText{Content: joinText(msg)},
				At:      dingTalkAt{AtMobiles: []string{}, IsAtAll: dc.AtAll},
			}
			if !blank(dc.AtMobile) {
				body.At.AtMobiles = []string{dc.AtMobile}
			}
			return expectCode(client.PostJSON(ctx, target, body), "errcode", 0, "errmsg")
		}),
	}
}

// ---- Xizhi ----

type xizhiMessage struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func xizhiDescriptor(client *transport.Client) Descriptor {
	return Descriptor{
		Name:    "xizhi",
		Enabled: func(c config.ChannelsConfig) bool { return c.Xizhi.Enabled },
		Ready:   func(c config.ChannelsConfig) bool { return c.Xizhi.Enabled && !blank(c.Xizhi.WebhookURL) },
		Targets: func(c config.ChannelsConfig) []string { return SplitTargets(c.Xizhi.WebhookURL) },
		Adapter: AdapterFunc(func(ctx context.Context, _ config.ChannelsConfig, msg notify.Request, target string) error {
			env := client.PostJSON(ctx, target, xizhiMessage{Title: msg.Title, Content: msg.Body})
			return expectCode(env, "code", 200, "msg", "message")
		}),
	}
}

// ---- Bark ----

type barkMessage struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Level     string `json:"level"`
	Badge     int    `json:"badge"`
	AutoCopy  int    `json:"autoCopy"`
	Sound     string `json:"sound"`
	Icon      string `json:"icon"`
	Group     string `json:"group"`
	IsArchive int    `json:"isArchive"`
	URL       string `json:"url"`
}

func barkDescriptor(client *transport.Client) Descriptor {
	return Descriptor{
		Name:    "bark",
		Enabled: func(c config.ChannelsConfig) bool { return c.Bark.Enabled },
		Ready:   func(c config.ChannelsConfig) bool { return c.Bark.Enabled && !blank(c.Bark.WebhookURL) },
		Targets: func(c config.ChannelsConfig) []string { return SplitTargets(c.Bark.WebhookURL) },
		Adapter: AdapterFunc(func(ctx context.Context, cfg config.ChannelsConfig, msg notify.Request, target string) error {
			bc := cfg.Bark
			level := bc.Level
			if blank(level) {
				level = "active"
			}
			body := barkMessage{
				Title:     msg.Title,
				Body:      msg.Body,
				Level:     level,
				Badge:     bc.Badge,
				AutoCopy:  boolInt(bc.AutoCopy),
				Sound:     bc.Sound,
				Icon:      bc.Icon,
				Group:     bc.Group,
				IsArchive: boolInt(bc.IsArchive),
				URL:       bc.URL,
			}
			return expectCode(client.PostJSON(ctx, target, body), "code", 200, "message")
		}),
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
