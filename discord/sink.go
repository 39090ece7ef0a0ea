// Package discord delivers announcements to Discord channels over the REST API.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/heraldbot/announcer/announce"
)

// Sink is an announce.MessageSink backed by a bot session. It never opens the
// gateway; every delivery is a single REST call.
type Sink struct {
	session *discordgo.Session
}

// NewSink builds a sink for a bot token. timeout bounds each REST call.
func NewSink(token string, timeout time.Duration) (*Sink, error) {
	if token == "" {
		return nil, errors.New("discord token empty")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	if timeout > 0 {
		session.Client = &http.Client{Timeout: timeout}
	}
	session.UserAgent = "announcer (https://github.com/heraldbot/announcer, 1.0)"
	return &Sink{session: session}, nil
}

// Session exposes the underlying session, mainly so tests can swap its HTTP client.
func (s *Sink) Session() *discordgo.Session { return s.session }

// Deliver posts a as an embed to channelID.
func (s *Sink) Deliver(ctx context.Context, channelID string, a announce.Announcement) error {
	if channelID == "" {
		return errors.New("discord channel id empty")
	}
	msg, err := s.session.ChannelMessageSendEmbed(channelID, Embed(a), discordgo.WithContext(ctx))
	if err != nil {
		var rest *discordgo.RESTError
		if errors.As(err, &rest) && rest.Response != nil {
			slog.Warn("discord rejected announcement",
				slog.String("component", "discord_sink"),
				slog.String("channel_id", channelID),
				slog.String("item_id", a.ItemID),
				slog.Int("status", rest.Response.StatusCode))
		}
		return fmt.Errorf("discord deliver %s to %s: %w", a.ItemID, channelID, err)
	}
	slog.Debug("announcement delivered", slog.String("component", "discord_sink"),
		slog.String("channel_id", channelID), slog.String("message_id", msg.ID))
	return nil
}

// Embed renders an announcement as a Discord embed.
func Embed(a announce.Announcement) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Type:        discordgo.EmbedTypeRich,
		Title:       a.Title,
		Description: a.Description,
		URL:         a.URL,
		Color:       a.Color,
	}
	if a.ImageURL != "" {
		e.Image = &discordgo.MessageEmbedImage{URL: a.ImageURL}
	}
	if a.ThumbnailURL != "" {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: a.ThumbnailURL}
	}
	if a.Footer != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: a.Footer}
	}
	if !a.Timestamp.IsZero() {
		e.Timestamp = a.Timestamp.UTC().Format(time.RFC3339)
	}
	return e
}
