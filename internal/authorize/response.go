package authorize

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Response is a parsed redirect from the authorize endpoint.
type Response struct {
	State            string
	AccessToken      string
	IDToken          string
	TokenType        string
	ExpiresIn        int64
	SessionState     string
	Error            string
	ErrorDescription string
}

// IsError reports whether the provider returned an error.
func (r *Response) IsError() bool {
	return r.Error != "" || r.ErrorDescription != ""
}

// Token converts a successful response into an oauth2.Token. For id_token
// responses the id token is used as the bearer value. The raw id token is
// always available through Token.Extra("id_token").
func (r *Response) Token(now time.Time) *oauth2.Token {
	if r.IsError() {
		return nil
	}

	value := r.AccessToken
	if value == "" {
		value = r.IDToken
	}
	if value == "" {
		return nil
	}

	token := &oauth2.Token{
		AccessToken: value,
		TokenType:   r.TokenType,
		ExpiresIn:   r.ExpiresIn,
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	// Convert ExpiresIn to Expiry (see oauth2.Token.ExpiresIn field documentation)
	if r.ExpiresIn > 0 {
		token.Expiry = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}

	return token.WithExtra(map[string]any{
		"id_token":      r.IDToken,
		"session_state": r.SessionState,
	})
}

// ParseResponse parses an authorize response. raw may be a full redirect URL,
// a "#fragment" or "?query", or the bare parameter string.
func ParseResponse(raw string) (*Response, error) {
	params := raw
	if _, fragment, found := strings.Cut(raw, "#"); found {
		params = fragment
	} else if _, query, found := strings.Cut(raw, "?"); found {
		params = query
	}

	values, err := url.ParseQuery(params)
	if err != nil {
		return nil, fmt.Errorf("parsing authorize response: %w", err)
	}

	resp := &Response{
		State:            values.Get("state"),
		AccessToken:      values.Get("access_token"),
		IDToken:          values.Get("id_token"),
		TokenType:        values.Get("token_type"),
		SessionState:     values.Get("session_state"),
		Error:            values.Get("error"),
		ErrorDescription: values.Get("error_description"),
	}

	if v := values.Get("expires_in"); v != "" {
		expiresIn, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid expires_in %q: %w", v, err)
		}
		resp.ExpiresIn = expiresIn
	}

	if resp.State == "" {
		return nil, errors.New("authorize response has no state")
	}

	return resp, nil
}
