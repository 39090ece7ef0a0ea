package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

// RefreshResult is the outcome of a refresh_token grant.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Authenticator performs the refresh_token grant against the Twitch token endpoint.
type Authenticator struct {
	ClientID     string
	ClientSecret string
	// TokenURL overrides the Twitch endpoint (tests, proxies).
	TokenURL   string
	HTTPClient *http.Client
}

// Refresh exchanges refreshToken for a new pair. Twitch rotates refresh tokens,
// so a response without both tokens is an error.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if a.ClientID == "" || a.ClientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	endpoint := twitch.Endpoint
	// Twitch only accepts client credentials in the form body.
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	if a.TokenURL != "" {
		endpoint.TokenURL = a.TokenURL
	}
	cfg := &oauth2.Config{ClientID: a.ClientID, ClientSecret: a.ClientSecret, Endpoint: endpoint}
	if a.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.HTTPClient)
	}

	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("twitch refresh failed: %w", err)
	}
	// oauth2 carries the old refresh token forward when the response omits one;
	// the raw field tells us whether Twitch actually sent a new one.
	rotated, _ := tok.Extra("refresh_token").(string)
	if tok.AccessToken == "" || rotated == "" {
		return nil, errors.New("twitch refresh response missing access_token or refresh_token")
	}
	return &RefreshResult{AccessToken: tok.AccessToken, RefreshToken: rotated, Expiry: tok.Expiry}, nil
}
